package models_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/payroll_audit/geo"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/testutil"
	"gorm.io/datatypes"
)

func TestMakePrimaryClearsOthers(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	c, h := testutil.Cipher(t), testutil.Hasher(t)
	staff := testutil.CreateStaff(t, db)
	bank := testutil.CreateBank(t, db, "GCB Bank")
	a := testutil.CreateBankDetail(t, db, c, h, staff.ID, bank.ID, "1111222233")
	b := testutil.CreateBankDetail(t, db, c, h, staff.ID, bank.ID, "4444555566")

	if err := b.MakePrimary(ctx, db); err != nil {
		t.Fatalf("MakePrimary: %v", err)
	}
	var rows []models.BankDetail
	db.Where("staff_id = ?", staff.ID).Order("id").Find(&rows)
	if rows[0].ID != a.ID || rows[0].IsPrimary || !rows[1].IsPrimary {
		t.Fatalf("primary flags wrong: %+v", rows)
	}

	plain, err := rows[1].DecryptAccountNumber(c)
	if err != nil || plain != "4444555566" {
		t.Fatalf("decrypt = %q, %v", plain, err)
	}
	if rows[1].AccountNumber == "4444555566" {
		t.Fatal("account number stored in plaintext")
	}
	if rows[1].AccountNumberHash != h.Hash("4444-5555-66") {
		t.Fatal("lookup hash must ignore separators")
	}
}

func TestBankDetailActivation(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	c, h := testutil.Cipher(t), testutil.Hasher(t)
	staff := testutil.CreateStaff(t, db)
	bank := testutil.CreateBank(t, db, "Ecobank")
	bd := testutil.CreateBankDetail(t, db, c, h, staff.ID, bank.ID, "9999888877")

	if err := bd.Deactivate(ctx, db, testutil.Now); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	var stored models.BankDetail
	db.Take(&stored, bd.ID)
	if stored.IsActive || stored.DeactivatedAt == nil {
		t.Fatalf("not deactivated: %+v", stored)
	}
	if err := bd.Activate(ctx, db); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	var again models.BankDetail
	db.Take(&again, bd.ID)
	if !again.IsActive || again.DeactivatedAt != nil {
		t.Fatalf("not reactivated: %+v", again)
	}
}

func TestValidateAccountNumber(t *testing.T) {
	tests := map[string]bool{
		"0123456789":        true,
		"0123-4567-8901":    true,
		"0123456789012345":  true,
		"012345678":         false,
		"01234567890123456": false,
		"01234abc89":        false,
	}
	for in, want := range tests {
		if got := models.ValidateAccountNumber(in); got != want {
			t.Fatalf("ValidateAccountNumber(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStationValidateGPSLocation(t *testing.T) {
	lat, lng := 5.56, -0.21
	radius := models.Station{Latitude: &lat, Longitude: &lng}
	if !radius.ValidateGPSLocation(geo.Point{Latitude: 5.60, Longitude: -0.20}) {
		t.Fatal("4.6 km away should be inside the 5 km radius")
	}
	if radius.ValidateGPSLocation(geo.Point{Latitude: 6.00, Longitude: -0.20}) {
		t.Fatal("49 km away should be outside")
	}

	fenced := models.Station{
		Latitude:  &lat,
		Longitude: &lng,
		GpsBoundary: datatypes.NewJSONType([]geo.Point{
			{Latitude: 5.55, Longitude: -0.22}, {Latitude: 5.55, Longitude: -0.20},
			{Latitude: 5.57, Longitude: -0.20}, {Latitude: 5.57, Longitude: -0.22},
		}),
	}
	if !fenced.ValidateGPSLocation(geo.Point{Latitude: 5.56, Longitude: -0.21}) {
		t.Fatal("centre of boundary should validate")
	}
	if fenced.ValidateGPSLocation(geo.Point{Latitude: 5.60, Longitude: -0.20}) {
		t.Fatal("boundary takes precedence over radius")
	}

	var bare models.Station
	if bare.ValidateGPSLocation(geo.Point{Latitude: 5.56, Longitude: -0.21}) {
		t.Fatal("station without coordinates cannot validate")
	}
}

func TestSeverityOrdering(t *testing.T) {
	for i := 1; i < len(models.AllSeverities); i++ {
		lo, hi := models.AllSeverities[i-1], models.AllSeverities[i]
		if lo.Priority() >= hi.Priority() {
			t.Fatalf("priority(%s)=%d not below priority(%s)=%d", lo, lo.Priority(), hi, hi.Priority())
		}
	}
	for _, s := range models.AllSeverities {
		if s.Label() == "" || s.Color() == "" || !s.IsValid() {
			t.Fatalf("severity %s missing label/color", s)
		}
	}
	if models.Severity("urgent").IsValid() {
		t.Fatal("unknown severity must be invalid")
	}
	for _, typ := range models.AllDiscrepancyTypes {
		if typ.Label() == "" {
			t.Fatalf("type %s has no label", typ)
		}
	}
	for _, st := range models.AllDiscrepancyStatuses {
		if st.Label() == "" || st.Color() == "" {
			t.Fatalf("status %s has no label/color", st)
		}
	}
}
