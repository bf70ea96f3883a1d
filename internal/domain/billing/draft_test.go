package billing

import (
	"encoding/json"
	"errors"
	"testing"
)

func fieldSet(err error) map[string]bool {
	var verr ValidationErrors
	if !errors.As(err, &verr) {
		return nil
	}
	out := make(map[string]bool, len(verr))
	for _, fe := range verr {
		out[fe.Field] = true
	}
	return out
}

func TestCreateDraft_Valid(t *testing.T) {
	d, err := CreateDraft(DraftInput{
		PatientID:   "P1",
		TotalAmount: Amount("275"),
		PaidAmount:  Amount("0"),
		Items: []ItemInput{
			{Description: "Consultation", Quantity: 1, UnitPrice: Amount("150"), Type: "consultation"},
			{Description: "Blood test", Quantity: 5, UnitPrice: Amount("25"), TotalPrice: Amount("120"), Type: "test"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != StatusPending {
		t.Errorf("expected default status pending, got %s", d.Status)
	}
	if d.TotalAmount.Cents() != 27500 {
		t.Errorf("expected total 27500, got %d", d.TotalAmount.Cents())
	}
	if d.Items[0].TotalPrice.Cents() != 15000 {
		t.Errorf("expected derived total price 15000, got %d", d.Items[0].TotalPrice.Cents())
	}
	if d.Items[1].TotalPrice.Cents() != 12000 {
		t.Errorf("expected stored override 12000, got %d", d.Items[1].TotalPrice.Cents())
	}
}

func TestCreateDraft_MissingRequiredFields(t *testing.T) {
	_, err := CreateDraft(DraftInput{})
	fields := fieldSet(err)
	for _, f := range []string{"patient_id", "total_amount", "paid_amount"} {
		if !fields[f] {
			t.Errorf("expected error on %s, got %v", f, err)
		}
	}
}

func TestCreateDraft_RejectsBadAmounts(t *testing.T) {
	_, err := CreateDraft(DraftInput{
		PatientID:   "P1",
		TotalAmount: Amount("abc"),
		PaidAmount:  Amount("-5"),
	})
	fields := fieldSet(err)
	if !fields["total_amount"] || !fields["paid_amount"] {
		t.Errorf("expected both amounts rejected, got %v", err)
	}

	_, err = CreateDraft(DraftInput{PatientID: "P1", TotalAmount: Amount("1.005"), PaidAmount: Amount("0")})
	if !fieldSet(err)["total_amount"] {
		t.Errorf("expected sub-cent amount rejected, got %v", err)
	}
}

func TestCreateDraft_RejectsBadStatus(t *testing.T) {
	_, err := CreateDraft(DraftInput{PatientID: "P1", TotalAmount: Amount("1"), PaidAmount: Amount("0"), Status: "refunded"})
	if !fieldSet(err)["status"] {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestCreateDraft_ItemErrorsAreIndexed(t *testing.T) {
	_, err := CreateDraft(DraftInput{
		PatientID:   "P1",
		TotalAmount: Amount("10"),
		PaidAmount:  Amount("0"),
		Items: []ItemInput{
			{Description: "ok", Quantity: 1, UnitPrice: Amount("10")},
			{Description: " ", Quantity: 0, UnitPrice: Amount("-1"), Type: "surgery"},
		},
	})
	fields := fieldSet(err)
	for _, f := range []string{"items[1].description", "items[1].quantity", "items[1].unit_price", "items[1].type"} {
		if !fields[f] {
			t.Errorf("expected error on %s, got %v", f, err)
		}
	}
	if fields["items[0].description"] {
		t.Error("did not expect an error on the first item")
	}
}

func TestAmountField_UnmarshalJSON(t *testing.T) {
	var in DraftInput
	body := `{"patient_id":"P1","total_amount":275.5,"paid_amount":"100","notes":null}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !in.TotalAmount.Set || in.TotalAmount.Raw != "275.5" {
		t.Errorf("unexpected total: %+v", in.TotalAmount)
	}
	if !in.PaidAmount.Set || in.PaidAmount.Raw != "100" {
		t.Errorf("unexpected paid: %+v", in.PaidAmount)
	}

	var absent DraftInput
	json.Unmarshal([]byte(`{"total_amount":null}`), &absent)
	if absent.TotalAmount.Set || absent.PaidAmount.Set {
		t.Error("expected null and missing amounts to be unset")
	}
}
