package wavinhome

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// settingsWithSelector builds a settings page with the given current target
// and a ten-button selector widget, warmest first, with btn5 selected. The
// encoded values run 260 (btn0) down to 170 (btn9).
func settingsWithSelector(currentTarget string) string {
	var b strings.Builder
	b.WriteString(`<html><body><span id="targetTemp">`)
	b.WriteString(currentTarget)
	b.WriteString("°C</span>\n")
	b.WriteString(`<div id="tempSelector">` + "\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, `<a id="btn%d" onclick="javascript:setTemperature(9130575, %d, 0)">x</a>`+"\n", i, 260-i*10)
	}
	b.WriteString(`<script>highlight($("#btn5"));</script>` + "\n")
	b.WriteString(`</div></body></html>`)
	return b.String()
}

type setCapture struct {
	posts   int
	gets    int
	lastID  string
	lastVal string
}

func setpointServer(t *testing.T, page string, rec *setCapture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/login":
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "tok", Path: "/"})
		case strings.HasPrefix(r.URL.Path, "/settings/"):
			rec.gets++
			fmt.Fprint(w, page)
		case r.URL.Path == "/settemperature":
			rec.posts++
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			rec.lastID = r.PostFormValue("id")
			rec.lastVal = r.PostFormValue("value")
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
}

func TestSetTargetTemperatureUnchanged(t *testing.T) {
	var rec setCapture
	server := setpointServer(t, settingsWithSelector("21.0"), &rec)
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.SetTargetTemperature(context.Background(), "9130575", 21.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SetUnchanged {
		t.Errorf("got %v, want unchanged", res)
	}
	if rec.gets != 1 {
		t.Errorf("got %d settings fetches, want 1", rec.gets)
	}
	if rec.posts != 0 {
		t.Errorf("got %d POSTs, want none", rec.posts)
	}
}

func TestSetTargetTemperatureOneDegreeDown(t *testing.T) {
	// Current 21.0, target 20.0, current index 5: one degree colder is one
	// step down the (warmest-first) row, index 6, encoded value 200.
	var rec setCapture
	server := setpointServer(t, settingsWithSelector("21.0"), &rec)
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.SetTargetTemperature(context.Background(), "9130575", 20.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SetApplied {
		t.Errorf("got %v, want applied", res)
	}
	if rec.posts != 1 {
		t.Fatalf("got %d POSTs, want 1", rec.posts)
	}
	if rec.lastID != "9130575" {
		t.Errorf("got id %q, want 9130575", rec.lastID)
	}
	if rec.lastVal != "200" {
		t.Errorf("got value %q, want 200 (button index 6)", rec.lastVal)
	}
}

func TestSetTargetTemperatureOutOfRange(t *testing.T) {
	// Six degrees colder would land on index 11 of 10 buttons.
	var rec setCapture
	server := setpointServer(t, settingsWithSelector("21.0"), &rec)
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.SetTargetTemperature(context.Background(), "9130575", 15.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SetUnsupported {
		t.Errorf("got %v, want unsupported", res)
	}
	if rec.posts != 0 {
		t.Errorf("got %d POSTs, want none", rec.posts)
	}
}

func TestSetTargetTemperatureHalfDegreeTruncates(t *testing.T) {
	// A half-degree delta truncates to zero steps: the current button is
	// re-posted rather than skipping a whole degree.
	var rec setCapture
	server := setpointServer(t, settingsWithSelector("21.0"), &rec)
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.SetTargetTemperature(context.Background(), "9130575", 20.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SetApplied {
		t.Errorf("got %v, want applied", res)
	}
	if rec.lastVal != "210" {
		t.Errorf("got value %q, want 210 (current button, index 5)", rec.lastVal)
	}
}

func TestSetTargetTemperatureNoWidget(t *testing.T) {
	page := `<html><body><span id="targetTemp">21.0°C</span></body></html>`
	var rec setCapture
	server := setpointServer(t, page, &rec)
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.SetTargetTemperature(context.Background(), "9130575", 19.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SetUnsupported {
		t.Errorf("got %v, want unsupported", res)
	}
	if rec.posts != 0 {
		t.Errorf("got %d POSTs, want none", rec.posts)
	}
}

func TestSetTargetTemperatureMalformedHandler(t *testing.T) {
	page := `<html><body><span id="targetTemp">21.0°C</span>
<div id="tempSelector">
<a id="btn0" onclick="javascript:setTemperature(9130575, 220)">x</a>
<a id="btn1" onclick="javascript:setTemperature(9130575, 210)">x</a>
<script>highlight($("#btn0"));</script>
</div></body></html>`
	var rec setCapture
	server := setpointServer(t, page, &rec)
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.SetTargetTemperature(context.Background(), "9130575", 20.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SetUnsupported {
		t.Errorf("got %v, want unsupported", res)
	}
	if rec.posts != 0 {
		t.Errorf("got %d POSTs, want none", rec.posts)
	}
}

func TestParseSetCall(t *testing.T) {
	ref, value, ok := parseSetCall(`javascript:setTemperature(9130575, 215, 0)`)
	if !ok {
		t.Fatal("expected handler to parse")
	}
	if ref != "9130575" || value != "215" {
		t.Errorf("got (%q, %q), want (9130575, 215)", ref, value)
	}

	if _, _, ok := parseSetCall(`javascript:toggleMode(1)`); ok {
		t.Error("unrelated handler should not parse")
	}
	if _, _, ok := parseSetCall(`setTemperature(1, 2)`); ok {
		t.Error("two-parameter call should not parse")
	}
	if _, _, ok := parseSetCall(`setTemperature(1, 2, 3, 4)`); ok {
		t.Error("four-parameter call should not parse")
	}
}

func TestSetResultString(t *testing.T) {
	cases := map[SetResult]string{
		SetApplied:     "applied",
		SetUnchanged:   "unchanged",
		SetUnsupported: "unsupported",
		SetFailed:      "failed",
	}
	for res, want := range cases {
		if got := res.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
