package security

import (
	"strings"
	"testing"
	"time"

	"github.com/quacklabs/paygate/internal/clock"
	"github.com/quacklabs/paygate/internal/wei"
)

const (
	testWallet  = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	goodAddress = "0x1111111111111111111111111111111111111111"
	badAddress  = "0x2222222222222222222222222222222222222222"
)

func testSettings(t *testing.T) *Settings {
	t.Helper()
	return NewSettings(clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)))
}

// ============================================================
// Spend caps
// ============================================================

func TestAddCap(t *testing.T) {
	s := testSettings(t)

	sc, err := s.AddCap(testWallet, CapSingle, "0.5")
	if err != nil {
		t.Fatalf("AddCap failed: %v", err)
	}
	if !strings.HasPrefix(sc.ID, "cap_") {
		t.Errorf("cap ID = %s, want cap_ prefix", sc.ID)
	}
	if sc.Wallet != strings.ToLower(testWallet) {
		t.Errorf("wallet not lowercased: %s", sc.Wallet)
	}
	if sc.LimitBNB != "0.5" {
		t.Errorf("limit = %s, want 0.5", sc.LimitBNB)
	}

	if got := s.Caps(testWallet); len(got) != 1 {
		t.Errorf("caps = %d, want 1", len(got))
	}
	if got := s.Caps("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"); len(got) != 0 {
		t.Errorf("other wallet sees %d caps", len(got))
	}
}

func TestAddCap_Invalid(t *testing.T) {
	s := testSettings(t)

	if _, err := s.AddCap(testWallet, "weekly", "1"); err == nil {
		t.Error("unknown cap type accepted")
	}
	if _, err := s.AddCap(testWallet, CapDaily, "-1"); err == nil {
		t.Error("negative limit accepted")
	}
	if _, err := s.AddCap(testWallet, CapDaily, "abc"); err == nil {
		t.Error("non-numeric limit accepted")
	}
}

func TestRemoveCap(t *testing.T) {
	s := testSettings(t)

	sc, _ := s.AddCap(testWallet, CapSingle, "1")
	if err := s.RemoveCap(sc.ID); err != nil {
		t.Fatalf("RemoveCap failed: %v", err)
	}
	if err := s.RemoveCap(sc.ID); err != ErrCapNotFound {
		t.Errorf("second remove err = %v, want ErrCapNotFound", err)
	}
}

// ============================================================
// Allow/deny lists
// ============================================================

func TestAddEntry(t *testing.T) {
	s := testSettings(t)

	entry, err := s.AddEntry(testWallet, ListDeny, badAddress, "scam")
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}
	if !strings.HasPrefix(entry.ID, "list_") {
		t.Errorf("entry ID = %s, want list_ prefix", entry.ID)
	}

	deny := s.Entries(testWallet, ListDeny)
	if len(deny) != 1 || deny[0].Label != "scam" {
		t.Errorf("deny entries = %+v", deny)
	}
	if got := s.Entries(testWallet, ListAllow); len(got) != 0 {
		t.Errorf("allow entries = %d, want 0", len(got))
	}

	if _, err := s.AddEntry(testWallet, "block", badAddress, ""); err == nil {
		t.Error("unknown list type accepted")
	}
}

func TestRemoveEntry(t *testing.T) {
	s := testSettings(t)

	entry, _ := s.AddEntry(testWallet, ListAllow, goodAddress, "")
	if err := s.RemoveEntry(entry.ID); err != nil {
		t.Fatalf("RemoveEntry failed: %v", err)
	}
	if err := s.RemoveEntry(entry.ID); err != ErrEntryNotFound {
		t.Errorf("second remove err = %v, want ErrEntryNotFound", err)
	}
}

// ============================================================
// Transaction verification
// ============================================================

func TestVerifyTransaction_Clean(t *testing.T) {
	s := testSettings(t)

	verdict := s.VerifyTransaction(testWallet, goodAddress, wei.BNB(1))
	if !verdict.Allowed || verdict.RiskScore != 0 || len(verdict.Warnings) != 0 {
		t.Errorf("verdict = %+v, want allowed with no warnings", verdict)
	}
}

func TestVerifyTransaction_DenyListBlocks(t *testing.T) {
	s := testSettings(t)
	s.AddEntry(testWallet, ListDeny, badAddress, "")

	verdict := s.VerifyTransaction(testWallet, strings.ToUpper(badAddress), wei.BNB(1))
	if verdict.Allowed {
		t.Error("deny-listed recipient allowed")
	}
	if verdict.RiskScore != 100 {
		t.Errorf("risk score = %d, want 100", verdict.RiskScore)
	}
}

func TestVerifyTransaction_AllowListWarning(t *testing.T) {
	s := testSettings(t)
	s.AddEntry(testWallet, ListAllow, goodAddress, "")

	verdict := s.VerifyTransaction(testWallet, badAddress, wei.BNB(1))
	if !verdict.Allowed {
		t.Error("off-allow-list recipient blocked instead of warned")
	}
	if verdict.RiskScore != 20 || len(verdict.Warnings) != 1 {
		t.Errorf("verdict = %+v, want one warning at score 20", verdict)
	}

	verdict = s.VerifyTransaction(testWallet, goodAddress, wei.BNB(1))
	if verdict.RiskScore != 0 {
		t.Errorf("allow-listed recipient scored %d", verdict.RiskScore)
	}
}

func TestVerifyTransaction_CapWarningsAccumulate(t *testing.T) {
	s := testSettings(t)
	s.AddCap(testWallet, CapSingle, "0.5")
	s.AddEntry(testWallet, ListAllow, goodAddress, "")

	// Off the allow list and over the cap: two warnings, score 40.
	verdict := s.VerifyTransaction(testWallet, badAddress, wei.BNB(2))
	if !verdict.Allowed {
		t.Error("warned transaction blocked")
	}
	if verdict.RiskScore != 40 || len(verdict.Warnings) != 2 {
		t.Errorf("verdict = %+v, want two warnings at score 40", verdict)
	}
}

func TestVerifyTransaction_WalletsAreIsolated(t *testing.T) {
	s := testSettings(t)
	s.AddEntry(testWallet, ListDeny, badAddress, "")

	verdict := s.VerifyTransaction("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", badAddress, wei.BNB(1))
	if !verdict.Allowed {
		t.Error("one wallet's deny list blocked another wallet")
	}
}
