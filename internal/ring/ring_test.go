package ring

import "testing"

func TestPushEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	got := b.Items()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Items=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Items=%v, want %v", got, want)
		}
	}
}

func TestNewestOrder(t *testing.T) {
	b := New[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		b.Push(s)
	}
	got := b.Newest(2)
	if len(got) != 2 || got[0] != "f" || got[1] != "e" {
		t.Fatalf("Newest(2)=%v, want [f e]", got)
	}
	all := b.Newest(0)
	if len(all) != 4 || all[3] != "c" {
		t.Fatalf("Newest(0)=%v, want [f e d c]", all)
	}
}

func TestPartialFill(t *testing.T) {
	b := New[int](10)
	b.Push(7)
	if items := b.Items(); len(items) != 1 || items[0] != 7 {
		t.Fatalf("Items=%v", items)
	}
	if newest := b.Newest(5); len(newest) != 1 {
		t.Fatalf("Newest(5)=%v, want 1 item", newest)
	}
}
