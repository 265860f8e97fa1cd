package directory

import (
	"context"
	"testing"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/logger"
)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, logger.Discard()), repo
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"whatsapp:+34 612-345-678", "+34612345678"},
		{" 612 34 56 78 ", "612345678"},
		{"(+34) 612.345.678", "+34612345678"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizePhone(tt.in); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestPhoneVariants(t *testing.T) {
	got := PhoneVariants("+34612345678")
	if len(got) != 2 || got[0] != "+34612345678" || got[1] != "34612345678" {
		t.Errorf("Unexpected variants %v", got)
	}

	got = PhoneVariants("34612345678")
	if len(got) != 2 || got[1] != "+34612345678" {
		t.Errorf("Unexpected variants %v", got)
	}

	if PhoneVariants("") != nil {
		t.Error("Expected no variants for empty phone")
	}
}

func TestIsValidFloorDoor(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"3º B", true},
		{"Portal 2, 1ºA", true},
		{"baño", false},
		{"la cocina del 2ºB", false},
		{"Salón", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := IsValidFloorDoor(tt.value); got != tt.valid {
				t.Errorf("IsValidFloorDoor(%q) = %v, expected %v", tt.value, got, tt.valid)
			}
		})
	}
}

func TestFindOrCreate_EmailStub(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	rep, err := svc.FindOrCreate(ctx, "Ana.Perez@Example.com", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rep.Email != "ana.perez@example.com" {
		t.Errorf("Expected lowercased email, got '%s'", rep.Email)
	}
	if rep.Name != "ana.perez" {
		t.Errorf("Expected stub name 'ana.perez', got '%s'", rep.Name)
	}
	if !rep.HasStubName() {
		t.Error("Expected stub name to be detected")
	}

	again, err := svc.FindOrCreate(ctx, "ana.perez@example.com", "Ana Pérez")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if again.ID != rep.ID {
		t.Error("Expected the existing reporter to be returned")
	}
}

func TestFindOrCreate_PhoneStub(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	rep, err := svc.FindOrCreate(ctx, "whatsapp:+34 612 345 678", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rep.Phone != "+34612345678" {
		t.Errorf("Expected normalised phone, got '%s'", rep.Phone)
	}
	if rep.Email != "whatsapp_34612345678@wa.placeholder.com" {
		t.Errorf("Unexpected placeholder email '%s'", rep.Email)
	}
	if rep.Name != "WhatsApp 5678" {
		t.Errorf("Expected 'WhatsApp 5678', got '%s'", rep.Name)
	}

	// stored with a plus, looked up without
	again, err := svc.FindOrCreate(ctx, "34612345678", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if again.ID != rep.ID {
		t.Error("Expected phone variant lookup to find the reporter")
	}
}

func TestFindOrCreate_ProviderIdentity(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	err := svc.SaveProvider(ctx, &Provider{
		Name:           "Ascensores Norte",
		Category:       domain.CategoryElevator,
		Email:          "avisos@ascensoresnorte.es",
		PhoneEmergency: "+34 900 100 200",
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, identity := range []string{"AVISOS@ascensoresnorte.es", "34900100200"} {
		rep, err := svc.FindOrCreate(ctx, identity, "")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if rep != nil {
			t.Errorf("Expected no reporter for provider identity %s", identity)
		}
	}
}

func TestEnrich_WriteIfEmpty(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	rep, _ := svc.FindOrCreate(ctx, "ana@example.com", "")
	rep.Address = "Calle Mayor 1"
	_ = repo.UpdateReporter(ctx, rep)

	facts := domain.Facts{}
	facts.Set(domain.FieldReporterName, "Ana Pérez")
	facts.Set(domain.FieldAddress, "Otra calle 9")
	facts.Set(domain.FieldReporterPhone, "612 345 678")
	facts.Set(domain.FieldCommunityName, "Los Olivos")
	facts.Set(domain.FieldLocationDetail, "cocina")

	updated, err := svc.Enrich(ctx, rep, facts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !updated {
		t.Fatal("Expected reporter to be updated")
	}

	stored, _ := repo.FindReporterByID(ctx, rep.ID)
	if stored.Name != "Ana Pérez" {
		t.Errorf("Expected stub name replaced, got '%s'", stored.Name)
	}
	if stored.Address != "Calle Mayor 1" {
		t.Errorf("Expected address kept, got '%s'", stored.Address)
	}
	if stored.Phone != "612345678" {
		t.Errorf("Expected phone filled, got '%s'", stored.Phone)
	}
	if stored.CommunityName != "Los Olivos" {
		t.Errorf("Expected community filled, got '%s'", stored.CommunityName)
	}
	if stored.FloorDoor != "" {
		t.Errorf("Expected room name rejected, got '%s'", stored.FloorDoor)
	}

	// a real name is never replaced
	facts = domain.Facts{}
	facts.Set(domain.FieldReporterName, "Otra Persona")
	updated, _ = svc.Enrich(ctx, stored, facts)
	if updated || stored.Name != "Ana Pérez" {
		t.Errorf("Expected name to stay, got '%s'", stored.Name)
	}
}

func TestEnrich_PlaceholderEmailReplaced(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	rep, _ := svc.FindOrCreate(ctx, "+34612345678", "")
	facts := domain.Facts{}
	facts.Set(domain.FieldReporterContact, "Luis@Example.com")

	if _, err := svc.Enrich(ctx, rep, facts); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rep.Email != "luis@example.com" {
		t.Errorf("Expected placeholder replaced, got '%s'", rep.Email)
	}
}

func TestKnownFacts(t *testing.T) {
	svc, _ := newTestService()

	stub := &Reporter{Email: "whatsapp_34612345678@wa.placeholder.com", Phone: "+34612345678", Name: "WhatsApp 5678", FloorDoor: "baño"}
	f := svc.KnownFacts(stub)
	if f.Has(domain.FieldReporterName) {
		t.Error("Stub name must not count as a known fact")
	}
	if f.Get(domain.FieldReporterContact) != "+34612345678" {
		t.Errorf("Expected phone as contact, got '%s'", f.Get(domain.FieldReporterContact))
	}
	if f.Has(domain.FieldLocationDetail) {
		t.Error("Room name must not count as location")
	}

	full := &Reporter{Email: "ana@example.com", Name: "Ana Pérez", Address: "Calle Mayor 1", FloorDoor: "2ºB"}
	f = svc.KnownFacts(full)
	if f.Get(domain.FieldReporterName) != "Ana Pérez" || f.Get(domain.FieldReporterContact) != "ana@example.com" || f.Get(domain.FieldLocationDetail) != "2ºB" {
		t.Errorf("Unexpected facts %v", f)
	}
}

func TestSaveProvider_SingleDefaultPerCategory(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first := &Provider{Name: "Fontanería A", Category: domain.CategoryWater, Email: "a@fontaneria.es", IsDefault: true, IsActive: true}
	second := &Provider{Name: "Fontanería B", Category: domain.CategoryWater, Email: "b@fontaneria.es", IsDefault: true, IsActive: true}
	other := &Provider{Name: "Electricidad C", Category: domain.CategoryElectricity, Email: "c@luz.es", IsDefault: true, IsActive: true}
	for _, p := range []*Provider{first, other, second} {
		if err := svc.SaveProvider(ctx, p); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	def, err := svc.DefaultProvider(ctx, domain.CategoryWater)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if def == nil || def.ID != second.ID {
		t.Error("Expected the last saved default to win")
	}

	old, _ := svc.Provider(ctx, first.ID)
	if old.IsDefault {
		t.Error("Expected previous default to be cleared")
	}

	elec, _ := svc.DefaultProvider(ctx, domain.CategoryElectricity)
	if elec == nil || elec.ID != other.ID {
		t.Error("Expected other categories untouched")
	}

	none, err := svc.DefaultProvider(ctx, domain.CategoryCleaning)
	if err != nil || none != nil {
		t.Error("Expected no default provider for cleaning")
	}
}

func TestSaveProvider_Validation(t *testing.T) {
	svc, _ := newTestService()

	err := svc.SaveProvider(context.Background(), &Provider{Category: "PLUMBING"})
	if err == nil {
		t.Fatal("Expected validation error")
	}
}
