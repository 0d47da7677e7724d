package sefaria

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/hebcal/hdate"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/shape"
)

// HebrewDateKey holds the Hebrew calendar date added to the calendar payload.
const HebrewDateKey = "Hebrew Date"

// Calendar returns today's learning schedule (parasha, daf yomi and so on)
// with the current Hebrew date. The date is pinned in the request so cached
// answers never outlive their day.
func (s *Service) Calendar(ctx context.Context, args CalendarArgs) (*shape.Result, error) {
	now := s.now()
	q := url.Values{
		"year":  {strconv.Itoa(now.Year())},
		"month": {strconv.Itoa(int(now.Month()))},
		"day":   {strconv.Itoa(now.Day())},
	}
	if args.Diaspora != nil {
		q.Set("diaspora", "0")
		if *args.Diaspora {
			q.Set("diaspora", "1")
		}
	}
	body, err := s.get(ctx, "calendars", "/api/calendars", q, s.cfg.ContentTTL)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var cal map[string]any
	if err := dec.Decode(&cal); err != nil {
		return nil, apierrors.Wrap(apierrors.UpstreamRejected, err, "calendar: unexpected payload")
	}
	if cal == nil {
		cal = map[string]any{}
	}
	cal[HebrewDateKey] = hdate.FromGregorian(now.Year(), now.Month(), now.Day()).String()
	return s.shaper.ShapeValue(ToolCalendar, cal)
}
