package intake

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatcher_OrdersEventsPerUser(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}

	handle := func(_ context.Context, ev Event) ([]Effect, error) {
		// Yield so a broken dispatcher would interleave.
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[ev.UserID] = append(seen[ev.UserID], ev.Value.Text)
		mu.Unlock()
		return nil, nil
	}
	d := NewDispatcher(handle, zerolog.Nop())

	users := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		for _, u := range users {
			d.Dispatch(context.Background(), FieldUpdate(u, KindFreeText, Value{Text: fmt.Sprint(i)}), nil)
		}
	}
	d.Wait()

	for _, u := range users {
		got := seen[u]
		if len(got) != 20 {
			t.Fatalf("user %s handled %d events, want 20", u, len(got))
		}
		for i, v := range got {
			if v != fmt.Sprint(i) {
				t.Fatalf("user %s event %d = %s, want %d", u, i, v, i)
			}
		}
	}
	if n := d.Pending(); n != 0 {
		t.Errorf("Pending = %d after Wait, want 0", n)
	}
}

func TestDispatcher_UsersRunInParallel(t *testing.T) {
	release := make(chan struct{})
	handle := func(_ context.Context, ev Event) ([]Effect, error) {
		if ev.UserID == "slow" {
			<-release
		}
		return []Effect{Notice(ev.UserID, NoticeCorrective, "ok")}, nil
	}
	d := NewDispatcher(handle, zerolog.Nop())

	d.Dispatch(context.Background(), Submit("slow"), nil)
	done := make(chan struct{})
	d.Dispatch(context.Background(), Submit("fast"), func([]Effect) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast user blocked behind slow user")
	}
	close(release)
	d.Wait()
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	calls := 0
	handle := func(_ context.Context, ev Event) ([]Effect, error) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil, nil
	}
	d := NewDispatcher(handle, zerolog.Nop())
	d.Dispatch(context.Background(), Submit("a"), nil)
	d.Dispatch(context.Background(), Submit("a"), nil)
	d.Wait()

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDispatcher_EndToEnd(t *testing.T) {
	sub := &fakeSubmitter{}
	c := newTestConversation(t, NewMemoryStore(), sub)
	d := NewDispatcher(c.Handle, zerolog.Nop())

	var mu sync.Mutex
	var results []Effect
	reply := func(effects []Effect) {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range effects {
			if e.Type == EffectSubmissionResult {
				results = append(results, e)
			}
		}
	}

	ctx := context.Background()
	for _, ev := range []Event{
		Start("42", Profile{DisplayName: "Ann"}),
		FieldUpdate("42", KindPhone, Value{Text: "+15550100"}),
		FieldUpdate("42", KindLocation, Value{Location: &Coordinates{Latitude: 40, Longitude: -75}}),
		FieldUpdate("42", KindFreeText, Value{Text: "Toyota Camry"}),
		FieldUpdate("42", KindFreeText, Value{Text: "rear-ended"}),
		FieldUpdate("42", KindPhoto, Value{MediaRef: "p1"}),
		Submit("42"),
		Submit("42"),
	} {
		d.Dispatch(ctx, ev, reply)
	}
	d.Wait()

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v, want one success", results)
	}
	if n := len(sub.Calls()); n != 1 {
		t.Errorf("submitter calls = %d, want 1", n)
	}
}
