package seeddata

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Directory is a generated set of doctors and patients.
type Directory struct {
	Doctors  []appointment.Doctor
	Patients []appointment.Patient
}

// Generate builds a directory with fake names, emails and fees.
// The same seed yields the same directory.
func Generate(seed uint64, doctors, patients int) Directory {
	faker := gofakeit.New(seed)
	now := time.Now().UTC()

	dir := Directory{
		Doctors:  make([]appointment.Doctor, 0, doctors),
		Patients: make([]appointment.Patient, 0, patients),
	}

	for i := 0; i < doctors; i++ {
		email := faker.Email()
		// Fees are whole multiples of 5 between 40 and 250.
		fee := decimal.NewFromInt(int64(faker.Number(8, 50) * 5))
		dir.Doctors = append(dir.Doctors, appointment.Doctor{
			ID:              uuid.MustParse(faker.UUID()),
			Name:            "Dr. " + faker.Name(),
			Email:           &email,
			Specialization:  specializations[faker.Number(0, len(specializations)-1)],
			ConsultationFee: fee,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	for i := 0; i < patients; i++ {
		email := faker.Email()
		dir.Patients = append(dir.Patients, appointment.Patient{
			ID:        uuid.MustParse(faker.UUID()),
			Name:      faker.Name(),
			Email:     &email,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	return dir
}

// LoadMemory puts every directory entry into repo.
func LoadMemory(repo *appointment.MemoryRepository, dir Directory) {
	for _, d := range dir.Doctors {
		repo.PutDoctor(d)
	}
	for _, p := range dir.Patients {
		repo.PutPatient(p)
	}
}

// InsertPostgres writes the directory in batches of batchSize rows.
func InsertPostgres(ctx context.Context, pool *pgxpool.Pool, dir Directory, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}

	for offset := 0; offset < len(dir.Doctors); offset += batchSize {
		end := min(offset+batchSize, len(dir.Doctors))
		batch := &pgx.Batch{}
		for _, d := range dir.Doctors[offset:end] {
			batch.Queue(`
				INSERT INTO doctors (id, name, email, specialization, consultation_fee, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, d.ID, d.Name, d.Email, d.Specialization, d.ConsultationFee.String(), d.CreatedAt, d.UpdatedAt)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert doctors: %w", err)
		}
	}

	for offset := 0; offset < len(dir.Patients); offset += batchSize {
		end := min(offset+batchSize, len(dir.Patients))
		batch := &pgx.Batch{}
		for _, p := range dir.Patients[offset:end] {
			batch.Queue(`
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5)
			`, p.ID, p.Name, p.Email, p.CreatedAt, p.UpdatedAt)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert patients: %w", err)
		}
	}

	return nil
}

// LoadPostgres reads back up to limit doctors and patients.
func LoadPostgres(ctx context.Context, pool *pgxpool.Pool, limit int) (Directory, error) {
	var dir Directory

	rows, err := pool.Query(ctx, `SELECT id, name, specialization, consultation_fee FROM doctors ORDER BY name LIMIT $1`, limit)
	if err != nil {
		return dir, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var d appointment.Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialization, &d.ConsultationFee); err != nil {
			rows.Close()
			return dir, fmt.Errorf("scan doctor: %w", err)
		}
		dir.Doctors = append(dir.Doctors, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return dir, fmt.Errorf("load doctors: %w", err)
	}

	rows, err = pool.Query(ctx, `SELECT id, name FROM patients ORDER BY name LIMIT $1`, limit)
	if err != nil {
		return dir, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p appointment.Patient
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return dir, fmt.Errorf("scan patient: %w", err)
		}
		dir.Patients = append(dir.Patients, p)
	}
	if err := rows.Err(); err != nil {
		return dir, fmt.Errorf("load patients: %w", err)
	}

	return dir, nil
}
