package mock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/GoCodeAlone/boardroom/provider"
)

func TestMockProvider_Name(t *testing.T) {
	m := New()
	if got := m.Name(); got != "mock" {
		t.Errorf("Name() = %q, want %q", got, "mock")
	}
}

func TestMockProvider_Chat_DefaultResponse(t *testing.T) {
	m := New()
	resp, err := m.Chat(context.Background(), nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != defaultResponse {
		t.Errorf("Chat() content = %q, want %q", resp.Content, defaultResponse)
	}
}

func TestMockProvider_Chat_CyclesResponses(t *testing.T) {
	m := New("first", "second", "third")

	want := []string{"first", "second", "third", "first"}
	for i, w := range want {
		resp, err := m.Chat(context.Background(), nil)
		if err != nil {
			t.Fatalf("Chat() call %d error = %v", i, err)
		}
		if resp.Content != w {
			t.Errorf("Chat() call %d = %q, want %q", i, resp.Content, w)
		}
	}
}

func TestMockProvider_ScriptedError(t *testing.T) {
	boom := errors.New("upstream down")
	m := NewScript(Step{Err: boom}, Step{Content: "ok"})
	if _, err := m.Chat(context.Background(), nil); !errors.Is(err, boom) {
		t.Fatalf("first call err = %v, want %v", err, boom)
	}
	resp, err := m.Chat(context.Background(), nil)
	if err != nil || resp.Content != "ok" {
		t.Errorf("second call = %v, %v", resp, err)
	}
}

func TestMockProvider_RecordsCalls(t *testing.T) {
	m := New("hello")
	msgs := []provider.Message{{Role: provider.RoleUser, Content: "hi"}}
	if _, err := m.Chat(context.Background(), msgs); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	msgs[0].Content = "mutated"
	calls := m.Calls()
	if len(calls) != 1 || calls[0][0].Content != "hi" {
		t.Errorf("Calls() = %+v", calls)
	}
}

func TestMockProvider_Concurrent(t *testing.T) {
	m := New("a", "b")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Chat(context.Background(), nil)
		}()
	}
	wg.Wait()
	if m.CallCount() != 20 {
		t.Errorf("CallCount = %d, want 20", m.CallCount())
	}
}
