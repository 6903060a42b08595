package detection_test

import (
	"context"
	"strings"
	"testing"

	"github.com/mmdatafocus/payroll_audit/detection"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/testutil"
)

func TestSharedBankAccountFlagsEveryHolder(t *testing.T) {
	db := testutil.NewDB(t)
	cipher, hasher := testutil.Cipher(t), testutil.Hasher(t)
	bank := testutil.CreateBank(t, db, "GCB Bank")
	ama := testutil.CreateStaff(t, db, testutil.WithName("Ama", "Owusu"))
	yaw := testutil.CreateStaff(t, db, testutil.WithName("Yaw", "Boateng"))
	other := testutil.CreateStaff(t, db)
	testutil.CreateBankDetail(t, db, cipher, hasher, ama.ID, bank.ID, "0123456789")
	testutil.CreateBankDetail(t, db, cipher, hasher, yaw.ID, bank.ID, "0123456789")
	testutil.CreateBankDetail(t, db, cipher, hasher, other.ID, bank.ID, "9876543210")

	d := detection.NewDuplicateBankAccountDetector(newDeps(db), cipher)
	if n := mustDetect(t, d.Detect); n != 2 {
		t.Fatalf("created %d findings, want 2", n)
	}
	rows := findings(t, db, models.DiscrepancyTypeDuplicateBankAccount)
	if len(rows) != 2 {
		t.Fatalf("stored %d findings", len(rows))
	}
	names := map[int]string{ama.ID: "Yaw Boateng", yaw.ID: "Ama Owusu"}
	for _, f := range rows {
		if f.Severity != models.SeverityCritical {
			t.Fatalf("severity = %s", f.Severity)
		}
		if !strings.Contains(f.Description, "****6789") || !strings.Contains(f.Description, "GCB Bank") {
			t.Fatalf("description missing account or bank: %q", f.Description)
		}
		if !strings.Contains(f.Description, names[f.StaffId]) {
			t.Fatalf("finding for %d does not name %q: %q", f.StaffId, names[f.StaffId], f.Description)
		}
		if strings.Contains(f.Description, "0123456789") {
			t.Fatalf("description leaks the full account number")
		}
	}

	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("second run created %d findings", n)
	}

	stats, err := d.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.UniqueDuplicateAccounts != 1 || stats.StaffWithDuplicateAccounts != 2 || stats.OpenDuplicateDiscrepancies != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestUndecryptableAccountIsExcluded(t *testing.T) {
	db := testutil.NewDB(t)
	cipher, hasher := testutil.Cipher(t), testutil.Hasher(t)
	bank := testutil.CreateBank(t, db, "Ecobank")
	a := testutil.CreateStaff(t, db)
	b := testutil.CreateStaff(t, db)
	testutil.CreateBankDetail(t, db, cipher, hasher, a.ID, bank.ID, "1111222233")
	broken := testutil.CreateBankDetail(t, db, cipher, hasher, b.ID, bank.ID, "1111222233")
	if err := db.Model(broken).Update("account_number", "not-a-ciphertext").Error; err != nil {
		t.Fatalf("corrupt account: %v", err)
	}

	d := detection.NewDuplicateBankAccountDetector(newDeps(db), cipher)
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("created %d findings, want 0", n)
	}
}

func TestSameStaffTwiceIsNotADuplicate(t *testing.T) {
	db := testutil.NewDB(t)
	cipher, hasher := testutil.Cipher(t), testutil.Hasher(t)
	bank := testutil.CreateBank(t, db, "Stanbic")
	a := testutil.CreateStaff(t, db)
	testutil.CreateBankDetail(t, db, cipher, hasher, a.ID, bank.ID, "5555666677")
	testutil.CreateBankDetail(t, db, cipher, hasher, a.ID, bank.ID, "5555-6666-77")

	d := detection.NewDuplicateBankAccountDetector(newDeps(db), cipher)
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("created %d findings, want 0", n)
	}
}

func TestSharedMobileMoneyNumber(t *testing.T) {
	db := testutil.NewDB(t)
	a := testutil.CreateStaff(t, db, testutil.WithMobileMoney("0241234567"))
	b := testutil.CreateStaff(t, db, testutil.WithMobileMoney("0241234567"))
	testutil.CreateStaff(t, db, testutil.WithMobileMoney("0201112222"))

	d := detection.NewDuplicateBankAccountDetector(newDeps(db), testutil.Cipher(t))
	if n := mustDetect(t, d.DetectMobileMoney); n != 2 {
		t.Fatalf("created %d findings, want 2", n)
	}
	for _, f := range findings(t, db, models.DiscrepancyTypeDuplicateBankAccount) {
		if f.StaffId != a.ID && f.StaffId != b.ID {
			t.Fatalf("unexpected staff %d flagged", f.StaffId)
		}
		if f.Rule != detection.RuleSharedMobileMoney || !strings.Contains(f.Description, "1 other staff member(s)") {
			t.Fatalf("unexpected finding %+v", f)
		}
	}
}
