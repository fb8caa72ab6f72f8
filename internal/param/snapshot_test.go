package param

import "testing"

func TestCaptureOmitsUnset(t *testing.T) {
	src := NewMapSource("node-1", "ImageColorAdjust")
	src.Set("brightness", 1.2)
	src.Set("label", "warm pass")
	src.Set("contrast", 1.1)
	src.Unset("contrast")

	snap := Capture(src)
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	if v, ok := snap.Float("brightness"); !ok || v != 1.2 {
		t.Fatalf("brightness = %v, %v", v, ok)
	}
	if v, ok := snap.String("label"); !ok || v != "warm pass" {
		t.Fatalf("label = %q, %v", v, ok)
	}
	if _, ok := snap["contrast"]; ok {
		t.Fatal("unset holder leaked into snapshot")
	}
}

func TestCaptureNilSource(t *testing.T) {
	if snap := Capture(nil); snap != nil {
		t.Fatalf("nil source should capture nil, got %v", snap)
	}
}

func TestSnapshotEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Snapshot
		want bool
	}{
		{"both_empty", Snapshot{}, Snapshot{}, true},
		{"same", Snapshot{"brightness": 1.2, "mode": "soft"}, Snapshot{"brightness": 1.2, "mode": "soft"}, true},
		{"value_differs", Snapshot{"brightness": 1.2}, Snapshot{"brightness": 1.3}, false},
		{"key_differs", Snapshot{"brightness": 1.2}, Snapshot{"contrast": 1.2}, false},
		{"subset", Snapshot{"brightness": 1.2}, Snapshot{"brightness": 1.2, "contrast": 1.0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Fatalf("Equal = %v, want %v", got, tc.want)
			}
			if got := tc.b.Equal(tc.a); got != tc.want {
				t.Fatalf("Equal (reversed) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	orig := Snapshot{"brightness": 1.2}
	clone := orig.Clone()
	clone["brightness"] = 2.0

	if v, _ := orig.Float("brightness"); v != 1.2 {
		t.Fatalf("clone mutation leaked into original: %v", v)
	}
}

func TestMapSourceObservers(t *testing.T) {
	src := NewMapSource("node-2", "")

	var fired int
	unsub := src.OnChange("brightness", func() { fired++ })

	src.Set("brightness", 1.0)
	src.Set("contrast", 2.0) // different holder, no notification
	if fired != 1 {
		t.Fatalf("observer fired %d times, want 1", fired)
	}

	unsub()
	src.Set("brightness", 1.5)
	if fired != 1 {
		t.Fatalf("observer fired after unsubscribe: %d", fired)
	}
}

func TestMapSourceAnyObserverSeesNewHolders(t *testing.T) {
	src := NewMapSource("node-4", "")

	var names []string
	unsub := src.OnAnyChange(func(name string) { names = append(names, name) })

	src.Set("brightness", 1.0)
	src.Set("contrast", 2.0) // holder created after registration still notifies
	if len(names) != 2 || names[0] != "brightness" || names[1] != "contrast" {
		t.Fatalf("observed names = %v", names)
	}

	unsub()
	src.Set("brightness", 1.5)
	if len(names) != 2 {
		t.Fatalf("observer fired after unsubscribe: %v", names)
	}
}

func TestMapSourceDragHooks(t *testing.T) {
	src := NewMapSource("node-3", "")

	var starts, ends int
	src.OnDragStart(func() { starts++ })
	stop := src.OnDragEnd(func() { ends++ })

	src.BeginDrag()
	src.EndDrag()
	stop()
	src.EndDrag()

	if starts != 1 || ends != 1 {
		t.Fatalf("starts=%d ends=%d, want 1 and 1", starts, ends)
	}
}
