package ids

import "testing"

func TestConsumerId_BytesRoundTrip(t *testing.T) {
	c := ConsumerId{Hi: 0x0102030405060708, Lo: 0x1112131415161718}
	got := ConsumerIdFromBytes(c.Bytes())
	if got != c {
		t.Fatalf("expected round trip, got %+v from %+v", got, c)
	}
}

func TestConsumerId_NextWrapsAt128BitMax(t *testing.T) {
	max := ConsumerId{Hi: ^uint64(0), Lo: ^uint64(0)}
	if next := max.Next(); !next.IsZero() {
		t.Fatalf("expected wraparound to zero, got %+v", next)
	}
}

func TestConsumerId_NextCarriesIntoHi(t *testing.T) {
	c := ConsumerId{Hi: 1, Lo: ^uint64(0)}
	next := c.Next()
	if next.Hi != 2 || next.Lo != 0 {
		t.Fatalf("expected carry into Hi, got %+v", next)
	}
}

func TestConsumerId_IsZero(t *testing.T) {
	if !(ConsumerId{}).IsZero() {
		t.Fatalf("expected zero value to report IsZero")
	}
	if (ConsumerId{Hi: 1}).IsZero() {
		t.Fatalf("expected non-zero Hi to report not zero")
	}
}

func TestMessageRef_KeyRoundTrip(t *testing.T) {
	ref := MessageRef{TopicId: 7, PartitionId: 2, LedgerId: 3, MessageId: 99}
	key := ref.Key()
	got, err := MessageRefFromKey(key)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != ref {
		t.Fatalf("expected round trip, got %+v from key %q", got, key)
	}
}

func TestMessageRefFromKey_Malformed(t *testing.T) {
	if _, err := MessageRefFromKey("not-a-ref"); err == nil {
		t.Fatalf("expected an error for a malformed ref key")
	}
}

func TestPartitionKey_PrefixOfLedgerKey(t *testing.T) {
	pk := PartitionKey(7, 2)
	lk := LedgerKey(7, 2, 3)
	if len(lk) <= len(pk) || lk[:len(pk)] != pk {
		t.Fatalf("expected partition key %q to be a prefix of ledger key %q", pk, lk)
	}
}
