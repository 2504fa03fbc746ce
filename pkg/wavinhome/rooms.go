package wavinhome

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	degreeSuffix   = "°C"
	humiditySuffix = " rh%"
)

// Selectors the portal's markup has been observed to use. None of this is
// documented; a layout change on the portal breaks parsing, not compiles.
const (
	roomBlockSelector   = ".items .listview"
	roomNameSelector    = ".thermoInput"
	roomLinkSelector    = ".thermHeader a"
	roomValueSelector   = ".thermHeader2"
	nextPageSelector    = ".next"
	hiddenClass         = "hidden"
	targetTempSelector  = "#targetTemp"
	modeIconsSelector   = "#modeIcons"
	outsideTempSelector = `[style="font-size:20px;color:red; font-weight:bold;"]`
)

var modeMarkers = []struct {
	src  string
	flag func(*Room) **bool
}{
	{"heat_on", func(r *Room) **bool { return &r.HeatingOn }},
	{"cool_on", func(r *Room) **bool { return &r.CoolingOn }},
	{"day_on", func(r *Room) **bool { return &r.DayOn }},
	{"night_on", func(r *Room) **bool { return &r.NightOn }},
}

// Rooms walks the paginated thermostat listing and returns every room keyed
// by identifier. The walk is sequential: whether page N+1 exists is only
// known once page N is parsed.
func (c *Client) Rooms(ctx context.Context) (map[string]Room, error) {
	rooms := make(map[string]Room)

	for page := 1; ; page++ {
		if page > c.maxPages {
			return nil, &ConnError{Op: "list rooms", Page: page, Err: errors.New("page limit exceeded")}
		}

		body, err := c.fetch(ctx, http.MethodGet, fmt.Sprintf("/thermostats?page=%d", page), nil, page)
		if err != nil {
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, &ConnError{Op: "parse listing", Page: page, Err: err}
		}

		if err := c.parseListing(doc, page, rooms); err != nil {
			return nil, err
		}

		if !hasNextPage(doc) {
			break
		}
	}

	return rooms, nil
}

func (c *Client) parseListing(doc *goquery.Document, page int, rooms map[string]Room) error {
	var parseErr error

	doc.Find(roomBlockSelector).EachWithBreak(func(_ int, block *goquery.Selection) bool {
		href := block.Find(roomLinkSelector).First().AttrOr("href", "")
		if href == "" {
			parseErr = errors.New("room block without settings link")
			return false
		}
		id := href[strings.LastIndex(href, "/")+1:]

		room := Room{
			ID:   id,
			Name: block.Find(roomNameSelector).First().AttrOr("value", ""),
		}

		// Temperature and humidity share a class and are told apart only
		// by their unit suffix.
		block.Find(roomValueSelector).Each(func(_ int, v *goquery.Selection) {
			text := strings.TrimSpace(v.Text())
			switch {
			case strings.HasSuffix(text, humiditySuffix):
				room.Humidity = strings.TrimSpace(strings.TrimSuffix(text, humiditySuffix))
			case strings.HasSuffix(text, degreeSuffix):
				room.Temperature = strings.TrimSpace(strings.TrimSuffix(text, degreeSuffix))
			}
		})

		if _, seen := rooms[id]; seen {
			// The portal has not been observed to repeat an id across
			// pages; if it ever does, last page wins.
			c.log.Debug("room id repeated across pages, overwriting",
				zap.String("roomId", id), zap.Int("page", page))
		}
		rooms[id] = room

		c.log.Debug("parsed room",
			zap.Int("page", page),
			zap.String("roomId", id),
			zap.String("name", room.Name),
			zap.String("temperature", room.Temperature),
			zap.String("humidity", room.Humidity),
		)
		return true
	})

	if parseErr != nil {
		return &ConnError{Op: "parse listing", Page: page, Err: parseErr}
	}
	return nil
}

func hasNextPage(doc *goquery.Document) bool {
	return doc.Find(nextPageSelector).Not("."+hiddenClass).Length() > 0
}

// RoomDetails fetches the per-room settings page and returns the target
// temperature plus whichever mode flags the page carries markers for.
// Fields the page does not mention stay zero/nil.
func (c *Client) RoomDetails(ctx context.Context, roomID string) (Room, error) {
	body, err := c.fetch(ctx, http.MethodGet, "/settings/"+roomID, nil, 0)
	if err != nil {
		return Room{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Room{}, &ConnError{Op: "parse settings", URL: c.baseURL + "/settings/" + roomID, Err: err}
	}

	room := Room{ID: roomID}
	if target := doc.Find(targetTempSelector).First(); target.Length() > 0 {
		room.TargetTemperature = trimDegrees(target.Text())
	}

	icons := doc.Find(modeIconsSelector)
	for _, marker := range modeMarkers {
		if icons.Find(fmt.Sprintf("img[src*=%q]", marker.src)).Length() > 0 {
			on := true
			*marker.flag(&room) = &on
		}
	}

	return room, nil
}

// OutsideTemperature scrapes the shared controls page. The reading is
// optional: a missing element returns an empty string without an error,
// since not every installation has an outside sensor.
func (c *Client) OutsideTemperature(ctx context.Context) (string, error) {
	body, err := c.fetch(ctx, http.MethodGet, "/controls", nil, 0)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", &ConnError{Op: "parse controls", URL: c.baseURL + "/controls", Err: err}
	}

	node := doc.Find(outsideTempSelector).First()
	if node.Length() == 0 {
		c.log.Warn("no outside temperature element on controls page", zap.String("body", string(body)))
		return "", nil
	}
	return trimDegrees(node.Text()), nil
}

func trimDegrees(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), degreeSuffix))
}

// Refresh is the aggregate read: the full directory, enriched with each
// room's settings, plus a synthetic outside entry when the portal reports
// one. Rooms are visited one at a time in a stable order.
func (c *Client) Refresh(ctx context.Context) (map[string]Room, error) {
	rooms, err := c.Rooms(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		details, err := c.RoomDetails(ctx, id)
		if err != nil {
			return nil, err
		}
		room := rooms[id]
		room.TargetTemperature = details.TargetTemperature
		room.HeatingOn = details.HeatingOn
		room.CoolingOn = details.CoolingOn
		room.DayOn = details.DayOn
		room.NightOn = details.NightOn
		rooms[id] = room
	}

	outside, err := c.OutsideTemperature(ctx)
	if err != nil {
		return nil, err
	}
	if outside != "" {
		rooms[OutsideID] = Room{ID: OutsideID, Name: "Outside", Temperature: outside}
	}

	return rooms, nil
}
