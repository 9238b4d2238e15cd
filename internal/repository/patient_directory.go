package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// PatientDirectory resolves inbound contacts to patients and records opt-outs.
type PatientDirectory interface {
	FindByContact(ctx context.Context, channel domain.Channel, address string) (*domain.Patient, error)
	SetSMSOptIn(ctx context.Context, patientID string, optIn bool) error
}

type postgresPatientDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresPatientDirectory returns a pgx-backed directory.
func NewPostgresPatientDirectory(pool *pgxpool.Pool) PatientDirectory {
	return &postgresPatientDirectory{pool: pool}
}

func (r *postgresPatientDirectory) FindByContact(ctx context.Context, channel domain.Channel, address string) (*domain.Patient, error) {
	column := "phone"
	if channel == domain.ChannelEmail {
		column = "lower(email)"
		address = strings.ToLower(address)
	}
	query := `
        SELECT id, name, phone, email, preferred_channel, sms_opt_in
        FROM patients WHERE ` + column + `=$1
        ORDER BY created_at LIMIT 1`

	var p domain.Patient
	if err := r.pool.QueryRow(ctx, query, address).Scan(
		&p.ID,
		&p.Name,
		&p.Phone,
		&p.Email,
		&p.PreferredChannel,
		&p.SMSOptIn,
	); err != nil {
		return nil, err
	}

	last, err := r.appointment(ctx, p.ID, `starts_at <= NOW() ORDER BY starts_at DESC`)
	if err != nil {
		return nil, err
	}
	next, err := r.appointment(ctx, p.ID, `starts_at > NOW() ORDER BY starts_at ASC`)
	if err != nil {
		return nil, err
	}
	p.LastAppointment = last
	p.NextAppointment = next
	return &p, nil
}

func (r *postgresPatientDirectory) appointment(ctx context.Context, patientID, where string) (*domain.Appointment, error) {
	query := `
        SELECT id, service, provider, starts_at
        FROM appointments WHERE patient_id=$1 AND status <> 'cancelled' AND ` + where + ` LIMIT 1`

	var a domain.Appointment
	err := r.pool.QueryRow(ctx, query, patientID).Scan(&a.ID, &a.Service, &a.Provider, &a.Date)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *postgresPatientDirectory) SetSMSOptIn(ctx context.Context, patientID string, optIn bool) error {
	const query = `UPDATE patients SET sms_opt_in=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, optIn, patientID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MemoryPatientDirectory is an in-process directory keyed by phone and email.
type MemoryPatientDirectory struct {
	mu       sync.RWMutex
	patients map[string]*domain.Patient
}

// NewMemoryPatientDirectory seeds a directory with patients.
func NewMemoryPatientDirectory(patients ...domain.Patient) *MemoryPatientDirectory {
	d := &MemoryPatientDirectory{patients: make(map[string]*domain.Patient)}
	for _, p := range patients {
		d.Put(p)
	}
	return d
}

// Put adds or replaces a patient.
func (d *MemoryPatientDirectory) Put(p domain.Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := p
	d.patients[p.ID] = &cp
}

func (d *MemoryPatientDirectory) FindByContact(_ context.Context, channel domain.Channel, address string) (*domain.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.patients {
		if channel == domain.ChannelEmail {
			if p.Email != "" && strings.EqualFold(p.Email, address) {
				cp := *p
				return &cp, nil
			}
			continue
		}
		if p.Phone == address {
			cp := *p
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (d *MemoryPatientDirectory) SetSMSOptIn(_ context.Context, patientID string, optIn bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.patients[patientID]
	if !ok {
		return pgx.ErrNoRows
	}
	p.SMSOptIn = optIn
	return nil
}
