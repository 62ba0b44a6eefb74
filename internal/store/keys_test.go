package store

import "testing"

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Buyer@Example.COM", "buyer_example_com"},
		{"  spaced@mail.com  ", "spaced_mail_com"},
		{"first.last+tag@mail.co", "first_last_tag_mail_co"},
		{"already_normal_123", "already_normal_123"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeKeyIdempotent(t *testing.T) {
	for _, in := range []string{"Buyer@Example.COM", "a+b@c.d", "plain123"} {
		once := NormalizeKey(in)
		if twice := NormalizeKey(once); twice != once {
			t.Fatalf("NormalizeKey not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestConversationID(t *testing.T) {
	got := ConversationID("Buyer@Example.com", "LST-42")
	want := "buyer_example_com_lst_42"
	if got != want {
		t.Fatalf("ConversationID = %q, want %q", got, want)
	}
}
