package automation

import (
	"errors"
	"testing"
	"time"

	"tchat-server/internal/models"
)

func TestKeywordMatch(t *testing.T) {
	cond := KeywordConditions{Keywords: []string{"Pricing", "cost"}}

	tests := []struct {
		msg  string
		want bool
	}{
		{"what is the PRICING?", true},
		{"costly", true},
		{"Cost", true},
		{"how much", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cond.Match(Event{Content: tt.msg}); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestKeywordOrderIndependent(t *testing.T) {
	a := KeywordConditions{Keywords: []string{"refund", "cancel"}}
	b := KeywordConditions{Keywords: []string{"cancel", "refund"}}
	for _, msg := range []string{"please cancel", "REFUND me", "hello"} {
		ev := Event{Content: msg}
		if a.Match(ev) != b.Match(ev) {
			t.Errorf("keyword order changed result for %q", msg)
		}
	}
}

func TestEmptyKeywordsNeverMatch(t *testing.T) {
	for _, cond := range []KeywordConditions{{}, {Keywords: []string{}}, {Keywords: []string{""}}} {
		if cond.Match(Event{Content: "anything"}) {
			t.Errorf("%+v matched", cond)
		}
	}
}

func TestWhitespaceKeywordIsASubstring(t *testing.T) {
	cond := KeywordConditions{Keywords: []string{" "}}
	if !cond.Match(Event{Content: "hello there"}) {
		t.Error("expected a space keyword to match a message containing a space")
	}
	if cond.Match(Event{Content: "hello"}) {
		t.Error("space keyword matched a message without spaces")
	}
}

func TestTimeBasedHalfOpen(t *testing.T) {
	cond := TimeBasedConditions{StartHour: 9, EndHour: 17}
	at := func(h int) Event {
		return Event{Now: time.Date(2024, 1, 1, h, 59, 0, 0, time.Local)}
	}
	if !cond.Match(at(9)) || !cond.Match(at(16)) {
		t.Error("expected 9 and 16 to match")
	}
	if cond.Match(at(8)) || cond.Match(at(17)) {
		t.Error("expected 8 and 17 not to match")
	}
}

func TestWelcomeMatch(t *testing.T) {
	var c WelcomeConditions
	if !c.Match(Event{MessageCount: 1}) {
		t.Error("count 1 should match")
	}
	for _, n := range []int64{-1, 0, 2} {
		if c.Match(Event{MessageCount: n}) {
			t.Errorf("count %d should not match", n)
		}
	}
}

func TestParseConditions(t *testing.T) {
	c, err := ParseConditions(TypeKeyword, []byte(`{"keywords":["a","b"]}`))
	if err != nil {
		t.Fatalf("ParseConditions: %v", err)
	}
	if kw := c.(KeywordConditions).Keywords; len(kw) != 2 {
		t.Errorf("keywords = %v", kw)
	}

	c, err = ParseConditions(TypeKeyword, nil)
	if err != nil {
		t.Fatalf("missing keywords: %v", err)
	}
	if len(c.(KeywordConditions).Keywords) != 0 {
		t.Error("expected no keywords")
	}

	c, err = ParseConditions(TypeTimeBased, []byte(`{"startHour":"9","endHour":17}`))
	if err != nil {
		t.Fatalf("time based: %v", err)
	}
	if tb := c.(TimeBasedConditions); tb.StartHour != 9 || tb.EndHour != 17 {
		t.Errorf("got %+v", tb)
	}

	bad := []struct {
		typ TriggerType
		raw string
	}{
		{TypeKeyword, `{"keywords":"a"}`},
		{TypeKeyword, `{"keywords":[1]}`},
		{TypeKeyword, `[1,2]`},
		{TypeTimeBased, `{"startHour":9}`},
		{TypeTimeBased, `{"startHour":true,"endHour":3}`},
	}
	for _, b := range bad {
		if _, err := ParseConditions(b.typ, []byte(b.raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseConditions(%s, %s) err = %v, want ErrMalformed", b.typ, b.raw, err)
		}
	}

	if _, err := ParseConditions("BOGUS", []byte(`{}`)); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("unsupported type err = %v", err)
	}
}

func TestParseActionsLegacyFlagBag(t *testing.T) {
	actions, err := ParseActions([]byte(`{"updateStatus":true,"status":"RESOLVED","assignTo":"u1","sendMessage":"yes","message":"hi"}`))
	if err != nil {
		t.Fatalf("ParseActions: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("got %d actions", len(actions))
	}
	if a, ok := actions[0].(SendMessageAction); !ok || a.Message != "hi" {
		t.Errorf("actions[0] = %#v", actions[0])
	}
	if a, ok := actions[1].(AssignAction); !ok || a.UserID != "u1" {
		t.Errorf("actions[1] = %#v", actions[1])
	}
	if a, ok := actions[2].(UpdateStatusAction); !ok || a.Status != models.StatusResolved {
		t.Errorf("actions[2] = %#v", actions[2])
	}

	actions, err = ParseActions([]byte(`{"sendMessage":false,"message":"x","assignTo":""}`))
	if err != nil || len(actions) != 0 {
		t.Errorf("falsy flags: %v, %v", actions, err)
	}
}

func TestParseActionsRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`{"updateStatus":true}`,
		`{"assignTo":42}`,
		`[{"type":"teleport"}]`,
		`[{"type":"assign"}]`,
		`[{"type":"update_status","status":"open"}]`,
		`"send"`,
	} {
		if _, err := ParseActions([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseActions(%s) err = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestParseActionsKeepsValidEntries(t *testing.T) {
	tests := []struct {
		raw  string
		want []Action
	}{
		{
			`{"sendMessage":true,"message":"See pricing","updateStatus":true}`,
			[]Action{SendMessageAction{Message: "See pricing"}},
		},
		{
			`{"assignTo":42,"updateStatus":true,"status":"CLOSED"}`,
			[]Action{UpdateStatusAction{Status: models.StatusClosed}},
		},
		{
			`[{"type":"teleport"},{"type":"assign","userId":"u1"},"junk",{"type":"send_message","message":"hi"}]`,
			[]Action{SendMessageAction{Message: "hi"}, AssignAction{UserID: "u1"}},
		},
	}
	for _, tt := range tests {
		got, err := ParseActions([]byte(tt.raw))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseActions(%s) err = %v, want ErrMalformed", tt.raw, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("ParseActions(%s) = %#v, want %#v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseActions(%s)[%d] = %#v, want %#v", tt.raw, i, got[i], tt.want[i])
			}
		}
	}
}

func TestMarshalActionsRoundTrip(t *testing.T) {
	in := []Action{
		SendMessageAction{Message: "hello"},
		AssignAction{UserID: "u9"},
		UpdateStatusAction{Status: models.StatusClosed},
	}
	raw, err := MarshalActions(in)
	if err != nil {
		t.Fatalf("MarshalActions: %v", err)
	}
	out, err := ParseActions(raw)
	if err != nil {
		t.Fatalf("ParseActions(%s): %v", raw, err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d actions from %s", len(out), raw)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("action %d = %#v, want %#v", i, out[i], in[i])
		}
	}
}

func TestDecodeKeepsGoodHalf(t *testing.T) {
	tr := trigger("t", TypeKeyword, `{"keywords":["a"]}`, `{"sendMessage":true,"message":"m","updateStatus":true,"status":"??"}`)
	rule, err := Decode(tr)
	if err == nil {
		t.Fatal("expected an error for malformed actions")
	}
	if !rule.Matches(Event{Content: "a"}) {
		t.Error("conditions should still decode")
	}
	if len(rule.Actions) != 1 || rule.Actions[0] != (SendMessageAction{Message: "m"}) {
		t.Errorf("actions = %v", rule.Actions)
	}

	tr = trigger("t", TypeKeyword, `{"keywords":"a"}`, `{"sendMessage":true}`)
	rule, err = Decode(tr)
	if err == nil || rule.Conditions != nil {
		t.Errorf("malformed conditions: rule = %+v, err = %v", rule, err)
	}
}

func TestNormalize(t *testing.T) {
	cond, acts, err := Normalize(TypeWelcome, []byte(`{"ignored":true}`),
		[]byte(`{"assignTo":"u1","sendMessage":true,"message":"hi"}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if string(cond) != "{}" {
		t.Errorf("conditions = %s", cond)
	}
	want := `[{"type":"send_message","message":"hi"},{"type":"assign","userId":"u1"}]`
	if string(acts) != want {
		t.Errorf("actions = %s, want %s", acts, want)
	}

	cond, _, err = Normalize("CUSTOM", []byte(`{"anything":1}`), nil)
	if err != nil || string(cond) != `{"anything":1}` {
		t.Errorf("unknown type: %s, %v", cond, err)
	}

	if _, _, err := Normalize(TypeTimeBased, []byte(`{"startHour":9}`), nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing endHour: %v", err)
	}
}
