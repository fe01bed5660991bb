package master

import "testing"

func TestHelloPromotesFirstClient(t *testing.T) {
	var events []string
	a := New(func(id string, ok bool) {
		if ok {
			events = append(events, id)
		} else {
			events = append(events, "<none>")
		}
	})

	if !a.Hello("A") {
		t.Fatal("first hello should promote")
	}
	if a.Hello("B") {
		t.Fatal("second hello should not promote while A holds master")
	}
	if !a.IsMaster("A") || a.IsMaster("B") {
		t.Fatal("A should be master, B should not")
	}
	if len(events) != 1 || events[0] != "A" {
		t.Fatalf("expected one promotion event for A, got %v", events)
	}
}

func TestRequestMasterUnconditionalTransfer(t *testing.T) {
	a := New(nil)
	a.Hello("A")
	a.RequestMaster("B")
	if a.IsMaster("A") {
		t.Fatal("A should have lost master")
	}
	if !a.IsMaster("B") {
		t.Fatal("B should now be master")
	}
}

func TestDisconnectReleasesMaster(t *testing.T) {
	var last string
	var lastOK bool
	a := New(func(id string, ok bool) { last, lastOK = id, ok })
	a.Hello("A")
	a.Disconnect("A")
	if _, has := a.Current(); has {
		t.Fatal("expected no master after disconnect")
	}
	if lastOK || last != "" {
		t.Fatalf("expected master_changed(nil) broadcast, got (%q, %v)", last, lastOK)
	}
}

func TestDisconnectNonMasterIsNoop(t *testing.T) {
	calls := 0
	a := New(func(string, bool) { calls++ })
	a.Hello("A")
	calls = 0
	a.Disconnect("B")
	if calls != 0 {
		t.Fatalf("disconnecting a non-master should not broadcast, got %d calls", calls)
	}
	if !a.IsMaster("A") {
		t.Fatal("A should still be master")
	}
}
