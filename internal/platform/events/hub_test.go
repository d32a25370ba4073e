package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", "week:2024-06-10")

	hub.Register(c)
	if hub.ClientCount() != 1 || hub.TopicCount("week:2024-06-10") != 1 {
		t.Fatalf("unexpected counts %d %d", hub.ClientCount(), hub.TopicCount("week:2024-06-10"))
	}

	hub.Unregister(c)
	if hub.ClientCount() != 0 || hub.TopicCount("week:2024-06-10") != 0 {
		t.Fatal("expected client to be removed")
	}
	if _, ok := <-c.Send; ok {
		t.Fatal("expected Send to be closed")
	}
	// second unregister is a no-op
	hub.Unregister(c)
}

func TestHub_PublishByTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	doctor := uuid.New()

	weekSub := newClient("week", "week:2024-06-10")
	doctorSub := newClient("doctor", "doctor:"+doctor.String(), TopicAll)
	other := newClient("other", "week:2024-06-17")
	for _, c := range []*Client{weekSub, doctorSub, other} {
		hub.Register(c)
	}

	ev := New(TypeSchedulePublished, uuid.New(), "DOCTOR_OVERRIDE", &doctor, "2024-06-10", 3, map[string]int{"created": 4})
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{weekSub, doctorSub} {
		select {
		case msg := <-c.Send:
			var got Event
			if err := json.Unmarshal(msg, &got); err != nil {
				t.Fatal(err)
			}
			if got.Type != TypeSchedulePublished || got.Version != 3 {
				t.Errorf("%s: unexpected event %+v", c.ID, got)
			}
		default:
			t.Errorf("%s: expected event", c.ID)
		}
	}
	// subscribed to two matching topics, delivered once
	select {
	case <-doctorSub.Send:
		t.Error("event delivered twice")
	default:
	}
	select {
	case <-other.Send:
		t.Error("other week should not receive the event")
	default:
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1")
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{"a", "b"}})
	if hub.TopicCount("a") != 1 || len(c.Topics) != 2 {
		t.Fatalf("subscribe failed: %v", c.Topics)
	}
	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{"a"}})
	if hub.TopicCount("a") != 0 || len(c.Topics) != 1 || c.Topics[0] != "b" {
		t.Fatalf("unsubscribe failed: %v", c.Topics)
	}
	hub.ProcessMessage(c, ClientMessage{Action: "explode"})
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Topics: []string{TopicAll}, Send: make(chan []byte, 1)}
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish(context.Background(), New(TypeScheduleDrafted, uuid.New(), "GLOBAL_TEMPLATE", nil, "2024-06-10", i, nil))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow client")
	}
}

func TestHub_ConcurrentRegister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(uuid.NewString(), TopicAll)
			hub.Register(c)
			hub.Publish(context.Background(), New(TypeScheduleArchived, uuid.New(), "GLOBAL_TEMPLATE", nil, "2024-06-10", 1, nil))
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestFanout(t *testing.T) {
	boom := errors.New("broker down")
	hub := NewHub(zerolog.Nop())
	c := newClient("c", TopicAll)
	hub.Register(c)

	err := Fanout{failingPublisher{boom}, hub, Nop{}}.Publish(context.Background(),
		New(TypeSchedulePublished, uuid.New(), "GLOBAL_TEMPLATE", nil, "2024-06-10", 2, nil))
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	select {
	case <-c.Send:
	default:
		t.Error("hub should still receive the event")
	}
}

func TestFeedHandler_Upgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewFeedHandler(hub, []string{"*"}).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/schedules/feed?topic=week:2024-06-10"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount("week:2024-06-10") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount("week:2024-06-10") != 1 {
		t.Fatal("client was not registered on its topic")
	}

	sid := uuid.New()
	hub.Publish(context.Background(), New(TypeSchedulePublished, sid, "GLOBAL_TEMPLATE", nil, "2024-06-10", 2, nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ScheduleID != sid {
		t.Errorf("expected schedule %s, got %s", sid, got.ScheduleID)
	}
}

func TestFeedHandler_RejectsUnknownOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewFeedHandler(hub, []string{"https://planner.example.org"}).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/schedules/feed"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}
}
