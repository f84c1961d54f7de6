// Package extract finds actionable intent in a chat message without calling
// a model. It is used as a pre-filter before the LLM path and as its
// fallback. It prefers returning nothing over guessing: a candidate needs an
// intent keyword and a request marker, an event also needs a creation verb and
// a date or time, and cancellations or questions about the past yield nothing.
package extract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

// Fixed confidences for deterministic candidates.
const (
	ConfidenceEventDateTime = 0.85
	ConfidenceEventPartial  = 0.7
	ConfidenceTodo          = 0.7
	ConfidenceTodoDue       = 0.75
	ConfidenceLocation      = 0.7
	ConfidenceLocationURL   = 0.8
)

// Result is the outcome of one extraction.
type Result struct {
	Candidates []brain.Candidate
	Reply      string // empty when there are no candidates
}

// Extractor is safe for concurrent use.
type Extractor struct {
	now func() time.Time
}

type Option func(*Extractor)

// WithClock injects the clock used to resolve relative dates. The clock's
// location is the calendar the dates are resolved in.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

func New(opts ...Option) *Extractor {
	e := &Extractor{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// HasIntent is the cheap pre-filter: an intent keyword plus a request marker,
// and no cancellation or retrospective phrasing.
func (e *Extractor) HasIntent(text string) bool {
	if !requestRe.MatchString(text) || cancelRe.MatchString(text) || retrospectRe.MatchString(text) {
		return false
	}
	return isEventRequest(text) || todoKeywordRe.MatchString(text) ||
		(placeKeywordRe.MatchString(text) && shareRe.MatchString(text))
}

// Extract returns the candidates found in text. Roster names found in the
// text become assignees or attendees.
func (e *Extractor) Extract(text string, roster []brain.Participant, projectID string) Result {
	if !e.HasIntent(text) {
		return Result{}
	}

	now := e.now()
	s := newScan(text)
	date, hasDate := s.date(now)
	times := s.times()
	people := mentioned(text, roster)
	place := placeFrom(text)

	var cands []brain.Candidate
	switch {
	case isEventRequest(text) && (hasDate || len(times) > 0):
		p := brain.EventPayload{
			Title:       s.title(roster, eventKeywordRe),
			AttendeeIDs: people,
			ProjectID:   projectID,
			Location:    place.Name,
		}
		if !hasDate {
			date = now
		}
		p.Date = date.Format("2006-01-02")
		conf := ConfidenceEventPartial
		if len(times) > 0 {
			p.StartTime = times[0].String()
			if hasDate {
				conf = ConfidenceEventDateTime
			}
		}
		if len(times) > 1 && times[1].after(times[0]) {
			p.EndTime = times[1].String()
		}
		cands = append(cands, brain.Candidate{Type: brain.ActionCreateEvent, Payload: p, Confidence: conf})

	case todoKeywordRe.MatchString(text):
		p := brain.TodoPayload{
			Title:       s.title(roster, todoKeywordRe),
			AssigneeIDs: people,
			ProjectID:   projectID,
		}
		conf := ConfidenceTodo
		if hasDate {
			p.DueDate = date.Format("2006-01-02")
			conf = ConfidenceTodoDue
		}
		cands = append(cands, brain.Candidate{Type: brain.ActionCreateTodo, Payload: p, Confidence: conf})
	}

	if place.Name != "" && shareRe.MatchString(text) && placeKeywordRe.MatchString(text) {
		conf := ConfidenceLocation
		if place.URL != "" {
			conf = ConfidenceLocationURL
		}
		cands = append(cands, brain.Candidate{Type: brain.ActionShareLocation, Payload: place, Confidence: conf})
	}

	// Drop anything that would not survive validation downstream.
	valid := cands[:0]
	for _, c := range cands {
		if c.Payload.Validate() == nil {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return Result{}
	}
	return Result{Candidates: valid, Reply: reply(valid, hangulRe.MatchString(text))}
}

func isEventRequest(text string) bool {
	return eventKeywordRe.MatchString(text) && eventVerbRe.MatchString(text)
}

// scan holds the message with every consumed date/time span blanked out, so
// later patterns cannot match the same text and the remainder becomes the title.
type scan struct {
	masked []byte
}

func newScan(text string) *scan {
	return &scan{masked: []byte(text)}
}

func (s *scan) mask(start, end int) {
	for i := start; i < end; i++ {
		s.masked[i] = ' '
	}
}

// each calls fn for every match of re in the unmasked text, masking the
// match when fn returns true.
func (s *scan) each(re interface {
	FindAllSubmatchIndex([]byte, int) [][]int
}, fn func(groups []string, end int) bool) {
	for _, loc := range re.FindAllSubmatchIndex(s.masked, -1) {
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = string(s.masked[loc[2*i]:loc[2*i+1]])
			}
		}
		if fn(groups, loc[1]) {
			s.mask(loc[0], loc[1])
		}
	}
}

func (s *scan) date(now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var found time.Time
	set := func(t time.Time) {
		if found.IsZero() {
			found = t
		}
	}

	s.each(isoDateRe, func(g []string, _ int) bool {
		t, ok := calendarDate(atoi(g[1]), atoi(g[2]), atoi(g[3]), now.Location())
		if ok {
			set(t)
		}
		return ok
	})
	monthDay := func(g []string, _ int) bool {
		t, ok := calendarDate(today.Year(), atoi(g[1]), atoi(g[2]), now.Location())
		if !ok {
			return false
		}
		if t.Before(today) {
			t = t.AddDate(1, 0, 0)
		}
		set(t)
		return true
	}
	s.each(koDateRe, monthDay)
	s.each(slashDateRe, monthDay)

	s.each(koWeekdayRe, func(g []string, _ int) bool {
		week := strings.Join(strings.Fields(g[1]), "")
		set(weekday(today, koWeekdays[g[2]], week == "다음주" || week == "담주" || week == "차주", week == "이번주"))
		return true
	})
	s.each(enWeekdayRe, func(g []string, _ int) bool {
		qual := strings.ToLower(g[1])
		set(weekday(today, enWeekdays[strings.ToLower(g[2])], qual == "next", qual == "this"))
		return true
	})

	s.each(koRelativeRe, func(g []string, _ int) bool {
		offset := map[string]int{"오늘": 0, "내일": 1, "모레": 2, "글피": 3}[g[0]]
		set(today.AddDate(0, 0, offset))
		return true
	})
	s.each(enRelativeRe, func(g []string, _ int) bool {
		offset := map[string]int{"today": 0, "tonight": 0, "tomorrow": 1, "day after tomorrow": 2}[strings.ToLower(g[1])]
		set(today.AddDate(0, 0, offset))
		return true
	})

	return found, !found.IsZero()
}

// weekday resolves a weekday relative to today. Weeks start on Monday.
// Without a qualifier it is the next occurrence after today.
func weekday(today time.Time, wd int, nextWeek, thisWeek bool) time.Time {
	if nextWeek || thisWeek {
		monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
		if nextWeek {
			monday = monday.AddDate(0, 0, 7)
		}
		return monday.AddDate(0, 0, (wd+6)%7)
	}
	diff := (wd - int(today.Weekday()) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return today.AddDate(0, 0, diff)
}

func calendarDate(y, m, d int, loc *time.Location) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Month() != time.Month(m) {
		return time.Time{}, false
	}
	return t, true
}

type clock struct {
	pos, h, m int
}

func (c clock) String() string { return fmt.Sprintf("%02d:%02d", c.h, c.m) }

func (c clock) after(o clock) bool { return c.h*60+c.m > o.h*60+o.m }

// times returns the clock times in the text in order of appearance.
func (s *scan) times() []clock {
	var out []clock
	add := func(pos, h, m int) bool {
		if h < 0 || h > 23 || m < 0 || m > 59 {
			return false
		}
		out = append(out, clock{pos: pos, h: h, m: m})
		return true
	}

	s.each(enMeridiemRe, func(g []string, end int) bool {
		h := atoi(g[1])
		if h < 1 || h > 12 {
			return false
		}
		pm := strings.HasPrefix(strings.ToLower(g[3]), "p")
		if pm && h < 12 {
			h += 12
		} else if !pm && h == 12 {
			h = 0
		}
		return add(end, h, atoi(g[2]))
	})
	s.each(colonTimeRe, func(g []string, end int) bool {
		return add(end, atoi(g[1]), atoi(g[2]))
	})
	s.each(koTimeRe, func(g []string, end int) bool {
		// "2시간" is a duration.
		if r, _ := utf8.DecodeRune(s.masked[end:]); r == '간' {
			return false
		}
		h := atoi(g[2])
		if h > 24 {
			return false
		}
		switch g[1] {
		case "오후", "저녁", "밤", "낮":
			if h < 12 {
				h += 12
			}
		case "오전", "아침":
			if h == 12 {
				h = 0
			}
		default:
			// Bare 1시..6시 in chat almost always means the afternoon.
			if h >= 1 && h <= 6 {
				h += 12
			}
		}
		if h == 24 {
			h = 0
		}
		m := atoi(g[3])
		if g[4] != "" {
			m = 30
		}
		return add(end, h, m)
	})
	s.each(namedTimeRe, func(g []string, end int) bool {
		switch strings.ToLower(g[0]) {
		case "정오", "noon":
			return add(end, 12, 0)
		default:
			return add(end, 0, 0)
		}
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

// title is what is left of the masked text after dropping request markers,
// filler words and participant names. When nothing is left the matched
// keyword is used.
func (s *scan) title(roster []brain.Participant, keyword interface{ FindString(string) string }) string {
	var kept []string
	for _, tok := range strings.Fields(string(s.masked)) {
		tok = strings.TrimRight(tok, ".,!?~")
		lower := strings.ToLower(tok)
		if tok == "" || dropTokens[lower] || strings.HasPrefix(tok, "@") || isRosterName(tok, roster) {
			continue
		}
		stripped := false
		for _, suf := range requestSuffixes {
			if strings.HasSuffix(tok, suf) {
				tok = strings.TrimSuffix(tok, suf)
				stripped = true
				break
			}
		}
		if stripped && schedulingVerbs[tok] {
			continue
		}
		if utf8.RuneCountInString(tok) > 2 {
			tok = strings.TrimSuffix(strings.TrimSuffix(tok, "을"), "를")
		}
		kept = append(kept, tok)
	}
	title := strings.Join(kept, " ")
	if title == "" {
		title = keyword.FindString(string(s.masked))
	}
	return title
}

func isRosterName(tok string, roster []brain.Participant) bool {
	for _, p := range roster {
		if p.Name != "" && strings.HasPrefix(tok, p.Name) {
			return true
		}
	}
	return false
}

// mentioned returns the ids of roster members named in text, in roster order.
func mentioned(text string, roster []brain.Participant) []string {
	var ids []string
	for _, p := range roster {
		if p.Name != "" && strings.Contains(text, p.Name) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func placeFrom(text string) brain.LocationPayload {
	var p brain.LocationPayload
	if u := urlRe.FindString(text); u != "" {
		p.URL = u
		text = strings.Replace(text, u, " ", 1)
	}
	for _, re := range []interface{ FindStringSubmatch(string) []string }{koPlaceNameRe, enPlaceNameRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			p.Name = cleanPlace(m[1])
			if p.Name != "" {
				break
			}
		}
	}
	if p.Name == "" && p.URL != "" {
		p.Name = p.URL
	}
	return p
}

// cleanPlace cuts a captured place phrase at the first request or share word.
func cleanPlace(s string) string {
	if loc := shareRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	if loc := requestRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = strings.TrimSpace(s)
	for _, suf := range []string{"으로", "로", "를", "을", "입니다", "이에요", "예요"} {
		s = strings.TrimSpace(strings.TrimSuffix(s, suf))
	}
	return s
}

func reply(cands []brain.Candidate, korean bool) string {
	lines := make([]string, 0, len(cands))
	for _, c := range cands {
		switch p := c.Payload.(type) {
		case brain.EventPayload:
			when := strings.TrimSpace(p.Date + " " + p.StartTime)
			if korean {
				lines = append(lines, fmt.Sprintf("일정 '%s' (%s) 을(를) 등록할까요?", p.Title, when))
			} else {
				lines = append(lines, fmt.Sprintf("Create event %q on %s?", p.Title, when))
			}
		case brain.TodoPayload:
			if korean {
				lines = append(lines, fmt.Sprintf("할 일 '%s' 을(를) 추가할까요?", p.Title))
			} else {
				lines = append(lines, fmt.Sprintf("Add task %q?", p.Title))
			}
		case brain.LocationPayload:
			if korean {
				lines = append(lines, fmt.Sprintf("위치 '%s' 을(를) 공유할까요?", p.Name))
			} else {
				lines = append(lines, fmt.Sprintf("Share location %q?", p.Name))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
