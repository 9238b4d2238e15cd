package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

func TestMemoryConversationStoreKeepsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationStore()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	conv := domain.NewConversation("c1", domain.Patient{ID: "p1", Name: "Sarah"}, now)
	conv.Append(domain.Message{Sender: domain.SenderPatient, Text: "hi", Time: now}, now)
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	conv.Messages[0].Text = "mutated after save"
	stored, ok := store.Get("c1")
	if !ok || stored.Messages[0].Text != "hi" {
		t.Fatalf("store should hold an independent copy, got %+v", stored)
	}

	all, err := store.LoadAll(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("LoadAll = %v, %v", all, err)
	}
}

func TestMemoryConversationStoreFailSave(t *testing.T) {
	store := NewMemoryConversationStore()
	boom := errors.New("disk full")
	store.FailSave = func(id string) error {
		if id == "bad" {
			return boom
		}
		return nil
	}
	now := time.Now()
	if err := store.Save(context.Background(), domain.NewConversation("bad", domain.Patient{}, now)); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := store.Save(context.Background(), domain.NewConversation("good", domain.Patient{}, now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryPatientDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryPatientDirectory(
		domain.Patient{ID: "p1", Name: "Sarah Johnson", Phone: "+15551234567", Email: "Sarah@example.com", SMSOptIn: true},
	)

	p, err := dir.FindByContact(ctx, domain.ChannelSMS, "+15551234567")
	if err != nil || p.ID != "p1" {
		t.Fatalf("phone lookup = %+v, %v", p, err)
	}
	if p, err = dir.FindByContact(ctx, domain.ChannelEmail, "sarah@EXAMPLE.com"); err != nil || p.ID != "p1" {
		t.Fatalf("email lookup = %+v, %v", p, err)
	}
	if _, err := dir.FindByContact(ctx, domain.ChannelSMS, "+19999999999"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}

	if err := dir.SetSMSOptIn(ctx, "p1", false); err != nil {
		t.Fatalf("SetSMSOptIn: %v", err)
	}
	p, _ = dir.FindByContact(ctx, domain.ChannelSMS, "+15551234567")
	if p.SMSOptIn {
		t.Fatal("opt-out not recorded")
	}
}

func TestMemorySettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySettingsRepository(domain.AutoCloseSettings{Days: 7})
	if err := repo.SetAutoClose(ctx, domain.AutoCloseNever); err != nil {
		t.Fatal(err)
	}
	got, err := repo.AutoClose(ctx)
	if err != nil || !got.Never() {
		t.Fatalf("AutoClose = %+v, %v", got, err)
	}
}

func TestMemoryStaffRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStaffRepository()

	admin := &domain.StaffMember{Name: "Admin", Email: "Admin@Clinic.test", Role: domain.StaffRoleAdmin, Active: true}
	if err := repo.Create(ctx, admin); err != nil || admin.ID == "" {
		t.Fatalf("Create = %v, id %q", err, admin.ID)
	}
	desk := &domain.StaffMember{Name: "Desk", Email: "desk@clinic.test", Role: domain.StaffRoleFrontDesk, Active: false}
	if err := repo.Create(ctx, desk); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByEmail(ctx, "admin@clinic.TEST")
	if err != nil || got.ID != admin.ID {
		t.Fatalf("GetByEmail = %+v, %v", got, err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
	if err := repo.Update(ctx, &domain.StaffMember{ID: "missing"}); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected ErrNoRows on update, got %v", err)
	}

	active := true
	list, err := repo.List(ctx, StaffFilter{Active: &active})
	if err != nil || len(list) != 1 || list[0].ID != admin.ID {
		t.Errorf("active filter = %+v, %v", list, err)
	}
	role := domain.StaffRoleFrontDesk
	if list, _ := repo.List(ctx, StaffFilter{Role: &role}); len(list) != 1 || list[0].ID != desk.ID {
		t.Errorf("role filter = %+v", list)
	}
}
