package algorithm

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	name := "test-algo-lookup"
	Register(&Descriptor{
		Name: name,
		Handler: func(inst *Instance, ev Event) error {
			inst.Emit(Event{Kind: AlgorithmEvent, Issuer: name, Payload: ev.Payload})
			return nil
		},
	})

	d, err := Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != name {
		t.Errorf("want %q, got %q", name, d.Name)
	}
}

func TestLookupUnknownIsError(t *testing.T) {
	if _, err := Lookup("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	name := "test-algo-dup"
	Register(&Descriptor{Name: name})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(&Descriptor{Name: name})
}

func TestInstanceDispatchAndDrainEvents(t *testing.T) {
	name := "test-algo-dispatch"
	Register(&Descriptor{
		Name: name,
		Handler: func(inst *Instance, ev Event) error {
			inst.Emit(Event{Kind: AlgorithmEvent, Payload: ev.Payload})
			return nil
		},
	})
	d, _ := Lookup(name)
	inst := NewInstance(d, nil, nil)

	if err := inst.Dispatch(Event{Kind: ProbeReply, Payload: 42}); err != nil {
		t.Fatal(err)
	}

	events := inst.DrainEvents()
	if len(events) != 1 || events[0].Payload != 42 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(inst.DrainEvents()) != 0 {
		t.Fatal("DrainEvents should clear the queue")
	}
}
