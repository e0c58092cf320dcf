package widget

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tchat-server/internal/automation"
	"tchat-server/internal/config"
	"tchat-server/internal/database"
	"tchat-server/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	db      *gorm.DB
	router  *gin.Engine
	chatbot models.Chatbot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	chatbot := models.Chatbot{
		TenantID:  "tenant-1",
		Name:      "Support",
		EmbedCode: "tchat-test",
		Settings:  datatypes.JSON(`{"greeting":"Hello there"}`),
		IsActive:  true,
	}
	if err := db.Create(&chatbot).Error; err != nil {
		t.Fatalf("create chatbot: %v", err)
	}

	store := database.NewConversationStore(db, nil)
	engine := automation.NewEngine(store, zap.NewNop())
	engine.Recorder = store
	h := NewHandler(&config.Config{DefaultGreeting: "Hi!"}, store, engine, zap.NewNop())

	r := gin.New()
	r.GET("/api/widget/init", h.Init)
	r.POST("/api/widget/conversation", h.CreateConversation)
	r.POST("/api/widget/message", h.PostMessage)
	r.GET("/api/widget/messages", h.GetMessages)

	return &fixture{db: db, router: r, chatbot: chatbot}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) addTrigger(t *testing.T, typ, conditions, actions string) {
	t.Helper()
	trigger := models.Trigger{
		ChatbotID:  f.chatbot.ID,
		Name:       typ,
		Type:       typ,
		Conditions: datatypes.JSON(conditions),
		Actions:    datatypes.JSON(actions),
		IsActive:   true,
	}
	if err := f.db.Create(&trigger).Error; err != nil {
		t.Fatalf("create trigger: %v", err)
	}
}

type conversationResponse struct {
	Conversation models.Conversation `json:"conversation"`
	VisitorID    string              `json:"visitorId"`
	Resumed      bool                `json:"resumed"`
}

func (f *fixture) startConversation(t *testing.T, visitorID string) conversationResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/widget/conversation", gin.H{"chatbotId": f.chatbot.ID, "visitorId": visitorID})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("start conversation: %d %s", w.Code, w.Body.String())
	}
	var resp conversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestInit(t *testing.T) {
	f := newFixture(t)
	inactive := models.Chatbot{TenantID: "tenant-1", Name: "Off", EmbedCode: "tchat-off"}
	if err := f.db.Create(&inactive).Error; err != nil {
		t.Fatalf("create chatbot: %v", err)
	}

	cases := []struct {
		query string
		want  int
	}{
		{"", http.StatusBadRequest},
		{"?embedCode=missing", http.StatusNotFound},
		{"?embedCode=tchat-off", http.StatusForbidden},
		{"?embedCode=tchat-test", http.StatusOK},
	}
	for _, tc := range cases {
		w := f.do(t, http.MethodGet, "/api/widget/init"+tc.query, nil)
		if w.Code != tc.want {
			t.Errorf("init%s = %d, want %d", tc.query, w.Code, tc.want)
		}
	}

	w := f.do(t, http.MethodGet, "/api/widget/init?embedCode=tchat-test", nil)
	var body struct {
		Chatbot struct {
			Settings models.ChatbotSettings `json:"settings"`
		} `json:"chatbot"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Chatbot.Settings.Greeting != "Hello there" {
		t.Errorf("greeting = %q", body.Chatbot.Settings.Greeting)
	}
}

func TestCreateConversationGreetsAndResumes(t *testing.T) {
	f := newFixture(t)

	first := f.startConversation(t, "")
	if first.VisitorID == "" {
		t.Fatal("visitor id not generated")
	}
	if first.Resumed {
		t.Error("new conversation reported as resumed")
	}
	if len(first.Conversation.Messages) != 1 || first.Conversation.Messages[0].Content != "Hello there" {
		t.Fatalf("expected greeting, got %+v", first.Conversation.Messages)
	}

	again := f.startConversation(t, first.VisitorID)
	if !again.Resumed || again.Conversation.ID != first.Conversation.ID {
		t.Errorf("expected to resume %s, got %+v", first.Conversation.ID, again)
	}

	f.db.Model(&models.Conversation{}).Where("id = ?", first.Conversation.ID).Update("status", models.StatusResolved)
	fresh := f.startConversation(t, first.VisitorID)
	if fresh.Resumed || fresh.Conversation.ID == first.Conversation.ID {
		t.Error("resolved conversation must not be resumed")
	}
}

func TestWelcomeTriggerReplacesGreeting(t *testing.T) {
	f := newFixture(t)
	f.addTrigger(t, "WELCOME", `{}`, `[{"type":"send_message","message":"Welcome aboard"}]`)

	conv := f.startConversation(t, "v1")
	if len(conv.Conversation.Messages) != 0 {
		t.Fatalf("static greeting should be skipped, got %+v", conv.Conversation.Messages)
	}

	w := f.do(t, http.MethodPost, "/api/widget/message", gin.H{"conversationId": conv.Conversation.ID, "content": "hi"})
	if w.Code != http.StatusCreated {
		t.Fatalf("post message: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Message models.Message   `json:"message"`
		Replies []models.Message `json:"replies"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Message.Sender != models.SenderVisitor {
		t.Errorf("message sender = %s", resp.Message.Sender)
	}
	if len(resp.Replies) != 1 || resp.Replies[0].Content != "Welcome aboard" || resp.Replies[0].Sender != models.SenderBot {
		t.Fatalf("replies = %+v", resp.Replies)
	}

	w = f.do(t, http.MethodPost, "/api/widget/message", gin.H{"conversationId": conv.Conversation.ID, "content": "hello again"})
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Replies) != 0 {
		t.Errorf("welcome fired twice: %+v", resp.Replies)
	}
}

func TestPostMessageRunsKeywordTrigger(t *testing.T) {
	f := newFixture(t)
	f.addTrigger(t, "KEYWORD", `{"keywords":["pricing"]}`,
		`{"sendMessage":true,"message":"See our plans","updateStatus":true,"status":"ASSIGNED"}`)
	conv := f.startConversation(t, "v1")

	w := f.do(t, http.MethodPost, "/api/widget/message", gin.H{"conversationId": conv.Conversation.ID, "content": "What is your PRICING?"})
	if w.Code != http.StatusCreated {
		t.Fatalf("post message: %d %s", w.Code, w.Body.String())
	}

	var stored models.Conversation
	f.db.First(&stored, "id = ?", conv.Conversation.ID)
	if stored.Status != models.StatusAssigned {
		t.Errorf("status = %s, want ASSIGNED", stored.Status)
	}

	w = f.do(t, http.MethodGet, "/api/widget/messages?conversationId="+conv.Conversation.ID, nil)
	var all []models.Message
	json.Unmarshal(w.Body.Bytes(), &all)
	if len(all) != 3 {
		t.Fatalf("messages = %d, want greeting, visitor, bot", len(all))
	}
	if all[2].Content != "See our plans" {
		t.Errorf("last message = %q", all[2].Content)
	}

	w = f.do(t, http.MethodGet, "/api/widget/messages?conversationId="+conv.Conversation.ID+"&after="+all[1].ID, nil)
	var after []models.Message
	json.Unmarshal(w.Body.Bytes(), &after)
	if len(after) != 1 || after[0].ID != all[2].ID {
		t.Errorf("after = %+v", after)
	}
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/widget/message", gin.H{"conversationId": "", "content": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing conversation = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/widget/message", gin.H{"conversationId": "nope", "content": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown conversation = %d", w.Code)
	}
	conv := f.startConversation(t, "v1")
	if w := f.do(t, http.MethodPost, "/api/widget/message", gin.H{"conversationId": conv.Conversation.ID, "content": "   "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank content = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/widget/messages", nil); w.Code != http.StatusBadRequest {
		t.Errorf("messages without id = %d", w.Code)
	}
}

func TestGreetingSkippedWhenTriggerLookupFails(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Migrator().DropTable(&models.Trigger{}); err != nil {
		t.Fatalf("drop triggers: %v", err)
	}

	w := f.do(t, http.MethodPost, "/api/widget/conversation", gin.H{"chatbotId": f.chatbot.ID, "visitorId": "v-err"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp conversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Conversation.Messages) != 0 {
		t.Errorf("expected no greeting, got %+v", resp.Conversation.Messages)
	}
}

func TestGetMessagesDatabaseError(t *testing.T) {
	f := newFixture(t)
	conv := f.startConversation(t, "v-db")
	if err := f.db.Migrator().DropTable(&models.Message{}, &models.Conversation{}); err != nil {
		t.Fatalf("drop tables: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/widget/messages?conversationId="+conv.Conversation.ID, nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
