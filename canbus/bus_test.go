package canbus

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLoopbackBus_MultiEndpoint(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()
	ctx := testCtx(t)

	a, b, c := bus.Open(), bus.Open(), bus.Open()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	send := MustFrame(0x321, []byte("hello"))
	if err := a.Send(ctx, send); err != nil {
		t.Fatalf("send: %v", err)
	}
	for name, ep := range map[string]Bus{"b": b, "c": c} {
		got, err := ep.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %s: %v", name, err)
		}
		if got.ID != send.ID || !bytes.Equal(got.Payload(), send.Payload()) {
			t.Fatalf("%s mismatch: got %+v want %+v", name, got, send)
		}
	}
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := a.Receive(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("sender should not hear itself, got %v", err)
	}
}

func TestLoopbackBus_CloseBehavior(t *testing.T) {
	bus := NewLoopbackBus()
	ctx := testCtx(t)
	a := bus.Open()
	b := bus.Open()

	_ = a.Close()
	if _, err := a.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed endpoint Receive: %v", err)
	}
	if err := a.Send(ctx, MustFrame(0x1, nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed endpoint Send: %v", err)
	}

	_ = bus.Close()
	if _, err := b.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive after bus close: %v", err)
	}
	if err := b.Send(ctx, MustFrame(0x1, nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after bus close: %v", err)
	}
	if _, err := bus.Dial(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Dial after close: %v", err)
	}
}

type closeCounter struct {
	Bus
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.Bus.Close()
}

func TestSendOnceReleasesHandle(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()
	ctx := testCtx(t)
	rx := bus.Open()
	defer rx.Close()

	var opened []*closeCounter
	d := DialerFunc(func(ctx context.Context) (Bus, error) {
		h, err := bus.Dial(ctx)
		if err != nil {
			return nil, err
		}
		cc := &closeCounter{Bus: h}
		opened = append(opened, cc)
		return cc, nil
	})

	if err := SendOnce(ctx, d, MustFrame(0x020, []byte{1})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := SendOnce(ctx, d, Frame{ID: 0x900}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("invalid frame: %v", err)
	}
	for i, h := range opened {
		if h.closes != 1 {
			t.Fatalf("handle %d closed %d times", i, h.closes)
		}
	}
	if got, err := rx.Receive(ctx); err != nil || got.ID != 0x020 {
		t.Fatalf("receive: %+v %v", got, err)
	}

	failing := DialerFunc(func(context.Context) (Bus, error) { return nil, errors.New("no bus") })
	if err := SendOnce(ctx, failing, MustFrame(1, nil)); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestSharedDialerKeepsBusOpen(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()
	ctx := testCtx(t)
	owner := bus.Open()
	defer owner.Close()
	peer := bus.Open()
	defer peer.Close()

	d := Shared(owner)
	for i := 0; i < 2; i++ {
		if err := SendOnce(ctx, d, MustFrame(0x100, []byte{byte(i)})); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		f, err := peer.Receive(ctx)
		if err != nil || f.Data[0] != byte(i) {
			t.Fatalf("receive %d: %+v %v", i, f, err)
		}
	}
}

func TestFilters(t *testing.T) {
	f1 := MustFrame(0x100, []byte{1})
	f2 := MustFrame(0x101, []byte{2, 3})
	ext := Frame{ID: 0x1ABCDEFF, Extended: true}
	rtr := f1
	rtr.RTR = true

	checks := []struct {
		name string
		ok   bool
	}{
		{"ByID", ByID(0x100)(f1) && !ByID(0x100)(f2)},
		{"ByIDs", ByIDs(0x100, 0x102)(f1) && !ByIDs(0x100, 0x102)(f2)},
		{"ByMask", ByMask(0x100, 0x7F0)(f2) && !ByMask(0x100, 0x7FF)(f2)},
		{"StandardOnly", StandardOnly()(f1) && !StandardOnly()(ext)},
		{"DataOnly", DataOnly()(f1) && !DataOnly()(rtr)},
		{"And", And(ByID(0x100), DataOnly())(f1) && !And(ByID(0x100), DataOnly())(rtr)},
		{"And nil", And(nil, ByID(0x100))(f1)},
		{"Or", Or(ByID(0x100), ByID(0x999))(f1) && !Or(ByID(0x999), ByID(0x998))(f1)},
		{"Not", !Not(ByID(0x100))(f1) && Not(ByID(0x999))(f1)},
	}
	for _, c := range checks {
		if !c.ok {
			t.Fatalf("%s failed", c.name)
		}
	}
}

func recvOrTimeout(t *testing.T, ch <-chan Frame) (Frame, bool) {
	t.Helper()
	select {
	case f, ok := <-ch:
		return f, ok
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for frame")
		return Frame{}, false
	}
}

func TestMux_SubscribeFilterClose(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()
	ctx := testCtx(t)
	m := NewMux(ctx, bus.Open())

	chA, cancelA := m.Subscribe(ByID(0x100), 1)
	chB, cancelB := m.Subscribe(ByMask(0x200, 0x700), 2)
	defer cancelB()

	producer := bus.Open()
	defer producer.Close()
	for _, id := range []uint32{0x100, 0x210, 0x105} {
		if err := producer.Send(ctx, MustFrame(id, []byte{1})); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if f, _ := recvOrTimeout(t, chA); f.ID != 0x100 {
		t.Fatalf("A got %03X", f.ID)
	}
	if f, _ := recvOrTimeout(t, chB); f.ID != 0x210 {
		t.Fatalf("B got %03X", f.ID)
	}
	select {
	case f := <-chA:
		t.Fatalf("A should be empty, got %03X", f.ID)
	case <-time.After(50 * time.Millisecond):
	}

	cancelA()
	cancelA()
	if _, ok := <-chA; ok {
		t.Fatalf("A should be closed")
	}

	_ = m.Close()
	if _, ok := <-chB; ok {
		t.Fatalf("B should be closed after mux close")
	}
	if m.Err() != nil {
		t.Fatalf("Close should not record an error, got %v", m.Err())
	}
	late, _ := m.Subscribe(nil, 1)
	if _, ok := <-late; ok {
		t.Fatalf("subscription after close should be closed")
	}
}

func TestMux_RecordsReceiveError(t *testing.T) {
	bus := NewLoopbackBus()
	ctx := testCtx(t)
	m := NewMux(ctx, bus.Open())
	ch, _ := m.Subscribe(nil, 1)

	_ = bus.Close()
	select {
	case <-m.Done():
	case <-ctx.Done():
		t.Fatalf("mux did not stop")
	}
	if !errors.Is(m.Err(), ErrClosed) {
		t.Fatalf("Err() = %v, want ErrClosed", m.Err())
	}
	if _, ok := <-ch; ok {
		t.Fatalf("subscriber should be closed")
	}
}
