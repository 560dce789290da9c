package dispatch

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		expected    Class
	}{
		{"plain US digits", "5551234567", ClassSMS},
		{"plain leading plus", "+15551234567", ClassSMS},
		{"gateway addressed device", "5551234567@txt.att.net", ClassSMS},
		{"digits with punctuation", "(555) 123-4567", ClassSMS},
		{"email address", "alice@example.com", ClassEmail},
		{"email with subdomain", "bob@mail.example.com", ClassEmail},
		{"bogus destination", "bogus", ClassInvalid},
		{"too few digits", "12345", ClassInvalid},
		{"local part not digits and no dot in domain", "alice@localhost", ClassInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.destination)
			if got != tt.expected {
				t.Errorf("Classify(%q) = %v, want %v", tt.destination, got, tt.expected)
			}
		})
	}
}

func TestClassifyIsStable(t *testing.T) {
	// Property 6: classification depends only on the local part and the
	// email regex, so repeated calls on the same input never disagree.
	destinations := []string{"5551234567", "alice@example.com", "bogus", "5551234567@txt.att.net"}
	for _, d := range destinations {
		first := Classify(d)
		for i := 0; i < 5; i++ {
			if got := Classify(d); got != first {
				t.Fatalf("Classify(%q) unstable: got %v then %v", d, first, got)
			}
		}
	}
}
