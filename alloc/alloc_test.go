package alloc

import "testing"

func TestMallocFreeHostReuse(t *testing.T) {
	a := New()
	sk := StreamKey(-1, 0)

	p1, err := a.Malloc(Host, -1, sk, 100)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if err := a.Free(p1, sk, DoneEvent); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if got := a.FreeListSize(Host); got != 1 {
		t.Fatalf("FreeListSize(Host) = %d, want 1", got)
	}

	p2, err := a.Malloc(Host, -1, sk, 100)
	if err != nil {
		t.Fatalf("second Malloc failed: %v", err)
	}
	if p2 != p1 {
		t.Fatalf("expected the freed pointer to be reused: got %x, want %x", p2, p1)
	}
	if got := a.FreeListSize(Host); got != 0 {
		t.Fatalf("FreeListSize(Host) after reuse = %d, want 0", got)
	}
}

func TestDeviceFreeDefersUntilEventDone(t *testing.T) {
	a := New()
	sk := StreamKey(0, 0)

	p, err := a.Malloc(Device, 0, sk, 64)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	ev := NewChanEvent()
	if err := a.Free(p, sk, ev); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if got := a.FreeListSize(Device); got != 0 {
		t.Fatalf("pointer must not return to the pool before its event completes, got FreeListSize=%d", got)
	}

	// A second malloc on the same stream should drain the chain once the
	// event completes and reuse the pointer.
	ev.Signal()
	p2, err := a.Malloc(Device, 0, sk, 64)
	if err != nil {
		t.Fatalf("second Malloc failed: %v", err)
	}
	if p2 != p {
		t.Fatalf("expected pointer reuse after event completion: got %x, want %x", p2, p)
	}
}

func TestBytesViewIsWritable(t *testing.T) {
	a := New()
	sk := StreamKey(-1, 0)
	p, err := a.Malloc(Host, -1, sk, 16)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	buf := a.Bytes(p)
	buf[0] = 0xAB
	if a.Bytes(p)[0] != 0xAB {
		t.Fatal("writes through Bytes() must be visible on subsequent calls")
	}
}

func TestTrimClearsFreeLists(t *testing.T) {
	a := New()
	sk := StreamKey(-1, 0)
	p, _ := a.Malloc(Host, -1, sk, 32)
	a.Free(p, sk, DoneEvent)
	if a.FreeListSize(Host) == 0 {
		t.Fatal("expected a non-empty free list before Trim")
	}
	a.Trim()
	if got := a.FreeListSize(Host); got != 0 {
		t.Fatalf("FreeListSize(Host) after Trim = %d, want 0", got)
	}
}

func TestMigrateCopiesBytesAndReleasesSource(t *testing.T) {
	a := New()
	sk := StreamKey(0, 0)
	src, err := a.Malloc(Host, -1, sk, 4)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	copy(a.Bytes(src), []byte{1, 2, 3, 4})

	dst, err := a.Migrate(src, Device, 0, sk, DoneEvent, nil)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	got := a.Bytes(dst)
	for i, want := range []byte{1, 2, 3, 4} {
		if got[i] != want {
			t.Fatalf("migrated byte %d = %d, want %d", i, got[i], want)
		}
	}
}

func TestMigrateSameClassIsNoop(t *testing.T) {
	a := New()
	sk := StreamKey(-1, 0)
	p, _ := a.Malloc(Host, -1, sk, 8)
	p2, err := a.Migrate(p, Host, -1, sk, DoneEvent, nil)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if p2 != p {
		t.Fatalf("same-class migrate should be a no-op: got %x, want %x", p2, p)
	}
}

func TestRoundPow2(t *testing.T) {
	cases := map[uintptr]uintptr{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 1024: 1024, 1025: 2048}
	for n, want := range cases {
		if got := roundPow2(n); got != want {
			t.Errorf("roundPow2(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestFreeUnknownPointerErrors(t *testing.T) {
	a := New()
	if err := a.Free(0xDEADBEEF, StreamKey(-1, 0), DoneEvent); err == nil {
		t.Fatal("Free on an unknown pointer must return an error")
	}
}
