package wavinhome

import (
	"bytes"
	"context"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	selectorContainer  = "#tempSelector"
	setTemperaturePath = "/settemperature"
)

var (
	// $("#btn5") inside the widget's inline script names the currently
	// selected button.
	currentButtonRe = regexp.MustCompile(`\$\(["']#([A-Za-z0-9_-]+)["']\)`)
	// onclick="javascript:setTemperature(9130575, 215, 0)"
	setCallRe = regexp.MustCompile(`setTemperature\(([^)]*)\)`)
)

// SetTargetTemperature changes a room's setpoint, in Celsius. The portal
// exposes no direct set endpoint, only a row of selector buttons whose
// position encodes a whole-degree offset from the current target, warmest
// first. We read the current target, pick the button that many steps away
// and replay the POST its click handler would have issued.
//
// Fractional deltas are truncated toward zero: asking for half a degree
// from the current target re-posts the current button. Widget markup the
// client does not recognize, and targets outside the button range, come
// back as SetUnsupported rather than an error.
func (c *Client) SetTargetTemperature(ctx context.Context, roomID string, target float64) (SetResult, error) {
	path := "/settings/" + roomID
	body, err := c.fetch(ctx, http.MethodGet, path, nil, 0)
	if err != nil {
		return SetFailed, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return SetFailed, &ConnError{Op: "parse settings", URL: c.baseURL + path, Err: err}
	}

	currentText := trimDegrees(doc.Find(targetTempSelector).First().Text())
	current, err := strconv.ParseFloat(currentText, 64)
	if err != nil {
		return SetFailed, &ConnError{Op: "parse target temperature", URL: c.baseURL + path, Err: err}
	}

	delta := current - target
	if delta == 0 {
		c.log.Debug("room already at target", zap.String("roomId", roomID), zap.Float64("target", target))
		return SetUnchanged, nil
	}

	container := doc.Find(selectorContainer).First()
	buttons := container.Find("[onclick]")
	script := container.Find("script").First()
	if buttons.Length() == 0 || script.Length() == 0 {
		c.log.Warn("settings page has no temperature selector widget", zap.String("roomId", roomID))
		return SetUnsupported, nil
	}

	m := currentButtonRe.FindStringSubmatch(script.Text())
	if m == nil {
		c.log.Warn("selector script names no current button", zap.String("roomId", roomID))
		return SetUnsupported, nil
	}
	currentID := m[1]

	currentIndex := -1
	buttons.Each(func(i int, b *goquery.Selection) {
		if b.AttrOr("id", "") == currentID {
			currentIndex = i
		}
	})
	if currentIndex < 0 {
		c.log.Warn("current button not found among selector buttons",
			zap.String("roomId", roomID), zap.String("buttonId", currentID))
		return SetUnsupported, nil
	}

	// Buttons run warmest to coldest, one degree apart, so lowering the
	// target moves the index up.
	newIndex := currentIndex + int(math.Trunc(delta))
	if newIndex < 0 || newIndex >= buttons.Length() {
		c.log.Warn("requested target outside the selector range",
			zap.String("roomId", roomID),
			zap.Float64("target", target),
			zap.Int("index", newIndex),
			zap.Int("buttons", buttons.Length()),
		)
		return SetUnsupported, nil
	}

	ref, value, ok := parseSetCall(buttons.Eq(newIndex).AttrOr("onclick", ""))
	if !ok {
		c.log.Warn("selector button has an unrecognized click handler",
			zap.String("roomId", roomID), zap.Int("index", newIndex))
		return SetUnsupported, nil
	}

	form := url.Values{
		"id":    {ref},
		"value": {value},
	}
	if _, err := c.fetch(ctx, http.MethodPost, setTemperaturePath, form, 0); err != nil {
		return SetFailed, err
	}

	c.log.Info("target temperature changed",
		zap.String("roomId", roomID),
		zap.Float64("target", target),
		zap.Int("fromIndex", currentIndex),
		zap.Int("toIndex", newIndex),
	)
	return SetApplied, nil
}

// parseSetCall pulls the (roomRef, encodedValue, unused) triple out of a
// setTemperature(...) click handler. Anything but exactly three parameters
// means the markup changed under us.
func parseSetCall(onclick string) (ref, value string, ok bool) {
	m := setCallRe.FindStringSubmatch(onclick)
	if m == nil {
		return "", "", false
	}
	params := strings.Split(m[1], ",")
	if len(params) != 3 {
		return "", "", false
	}
	clean := func(s string) string {
		return strings.Trim(strings.TrimSpace(s), `'"`)
	}
	return clean(params[0]), clean(params[1]), true
}
