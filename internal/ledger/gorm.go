package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ehr/weekplan/internal/domain/plan"
)

// slotRow maps the booking subsystem's ledger_slots table. Only the columns
// this service reads or writes are declared.
type slotRow struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	DoctorID      uuid.UUID      `gorm:"type:uuid;not null"`
	SlotDate      datatypes.Date `gorm:"type:date;not null"`
	StartTime     string         `gorm:"type:varchar(5);not null"`
	EndTime       string         `gorm:"type:varchar(5);not null"`
	SessionType   string         `gorm:"type:varchar(32);not null"`
	Capacity      int            `gorm:"not null"`
	AppointmentID *uuid.UUID     `gorm:"type:uuid"`
	ScheduleID    *uuid.UUID     `gorm:"type:uuid"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (slotRow) TableName() string { return "ledger_slots" }

var keyColumns = []clause.Column{{Name: "doctor_id"}, {Name: "slot_date"}, {Name: "start_time"}, {Name: "end_time"}}

// GormLedger implements Ledger on top of gorm.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// OpenPostgres opens the ledger database. It may be the same database as the
// schedule store or the booking subsystem's own.
func OpenPostgres(dsn string, maxOpen int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db.DB(): %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	return db, nil
}

func toDate(d plan.Date) datatypes.Date {
	return datatypes.Date(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
}

func keyWhere(db *gorm.DB, k Key) *gorm.DB {
	return db.Where("doctor_id = ? AND slot_date = ? AND start_time = ? AND end_time = ?",
		k.DoctorID, toDate(k.Date), k.StartTime.String(), k.EndTime.String())
}

func fromRow(r slotRow) (Slot, error) {
	start, err := plan.ParseClock(r.StartTime)
	if err != nil {
		return Slot{}, err
	}
	end, err := plan.ParseClock(r.EndTime)
	if err != nil {
		return Slot{}, err
	}
	return Slot{
		Key: Key{
			DoctorID:  r.DoctorID,
			Date:      plan.DateOf(time.Time(r.SlotDate)),
			StartTime: start,
			EndTime:   end,
		},
		SessionType:   plan.SessionType(r.SessionType),
		Capacity:      r.Capacity,
		AppointmentID: r.AppointmentID,
		ScheduleID:    r.ScheduleID,
	}, nil
}

func (l *GormLedger) FindSlot(ctx context.Context, key Key) (*Slot, error) {
	var row slotRow
	err := keyWhere(l.db.WithContext(ctx), key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ledger slot: %w", err)
	}
	s, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (l *GormLedger) ListSlots(ctx context.Context, doctorID uuid.UUID, from, to plan.Date) ([]Slot, error) {
	var rows []slotRow
	err := l.db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Where("slot_date >= ? AND slot_date <= ?", toDate(from), toDate(to)).
		Order("slot_date ASC").Order("start_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list ledger slots: %w", err)
	}
	out := make([]Slot, 0, len(rows))
	for _, r := range rows {
		s, err := fromRow(r)
		if err != nil {
			return nil, fmt.Errorf("ledger slot %s: %w", r.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (l *GormLedger) UpsertSlot(ctx context.Context, slot Slot) error {
	return upsert(l.db.WithContext(ctx), slot)
}

func (l *GormLedger) DeleteSlot(ctx context.Context, key Key) error {
	if err := remove(l.db.WithContext(ctx), key); !errors.Is(err, ErrSlotNotFound) {
		return err
	}
	return nil
}

// Apply runs the batch in one transaction. Booked entries and deletes that
// match nothing are skipped without aborting the batch.
func (l *GormLedger) Apply(ctx context.Context, writes []Write) ([]Key, error) {
	var skipped []Key
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skipped = skipped[:0]
		for _, w := range writes {
			var err error
			switch w.Op {
			case OpUpsert:
				err = upsert(tx, w.Slot)
			case OpDelete:
				err = remove(tx, w.Slot.Key)
			default:
				err = fmt.Errorf("unknown ledger op %q", w.Op)
			}
			if errors.Is(err, ErrSlotBooked) || errors.Is(err, ErrSlotNotFound) {
				skipped = append(skipped, w.Slot.Key)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return skipped, nil
}

func upsert(db *gorm.DB, slot Slot) error {
	row := slotRow{
		ID:          uuid.New(),
		DoctorID:    slot.DoctorID,
		SlotDate:    toDate(slot.Date),
		StartTime:   slot.StartTime.String(),
		EndTime:     slot.EndTime.String(),
		SessionType: string(slot.SessionType),
		Capacity:    slot.Capacity,
		ScheduleID:  slot.ScheduleID,
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   keyColumns,
		DoUpdates: clause.AssignmentColumns([]string{"session_type", "capacity", "schedule_id", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "ledger_slots.appointment_id IS NULL"},
		}},
	}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("upsert ledger slot %s: %w", slot.SlotKey(), res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSlotBooked
	}
	return nil
}

func remove(db *gorm.DB, key Key) error {
	res := keyWhere(db, key).
		Where("appointment_id IS NULL AND schedule_id IS NOT NULL").
		Delete(&slotRow{})
	if res.Error != nil {
		return fmt.Errorf("delete ledger slot %s: %w", key.SlotKey(), res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var booked int64
	if err := keyWhere(db.Model(&slotRow{}), key).Where("appointment_id IS NOT NULL").Count(&booked).Error; err != nil {
		return fmt.Errorf("check ledger slot %s: %w", key.SlotKey(), err)
	}
	if booked > 0 {
		return ErrSlotBooked
	}
	return ErrSlotNotFound
}
