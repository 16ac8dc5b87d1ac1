package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"gwpotential/pipeline"
)

const schema = `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL UNIQUE,
        model_name VARCHAR(50),
        accuracy REAL,
        precision REAL,
        recall REAL,
        f1 REAL,
        features TEXT,
        trained_at DATETIME,
        data_points INTEGER,
        rejected_rows INTEGER DEFAULT 0
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        source VARCHAR(20) NOT NULL,
        batch_id TEXT,
        record TEXT NOT NULL,
        predicted_label VARCHAR(20) NOT NULL,
        prob_low REAL,
        prob_high REAL,
        country TEXT,
        province TEXT,
        district TEXT,
        latitude TEXT,
        longitude TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
    `

// Store is the SQLite-backed training log and prediction history.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path.
func Open(path string) (*Store, error) {
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	// sqlite serializes writers anyway
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, eris.Wrap(err, "create tables")
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// TrainingLog is one row of training_log.
type TrainingLog struct {
	RunID        string    `json:"run_id"`
	ModelName    string    `json:"model_name"`
	Accuracy     float64   `json:"accuracy"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1           float64   `json:"f1"`
	Features     []string  `json:"features"`
	TrainedAt    time.Time `json:"trained_at"`
	DataPoints   int       `json:"data_points"`
	RejectedRows int       `json:"rejected_rows"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if log.RunID == "" {
		return errors.New("run id required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (
            run_id, model_name, accuracy, precision, recall, f1, features, trained_at, data_points, rejected_rows
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.RunID, log.ModelName, log.Accuracy, log.Precision, log.Recall, log.F1,
		strings.Join(log.Features, ","), log.TrainedAt.UTC(), log.DataPoints, log.RejectedRows,
	)
	return eris.Wrap(err, "save training log")
}

// LoadTrainingLog returns the most recent runs first.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, model_name, accuracy, precision, recall, f1, features, trained_at, data_points, rejected_rows
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "query training log")
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var features string
		if err := rows.Scan(&log.RunID, &log.ModelName, &log.Accuracy, &log.Precision, &log.Recall,
			&log.F1, &features, &log.TrainedAt, &log.DataPoints, &log.RejectedRows); err != nil {
			return nil, eris.Wrap(err, "scan training log")
		}
		if features != "" {
			log.Features = strings.Split(features, ",")
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// Location is optional metadata captured by the form. It is never a model input.
type Location struct {
	Country   string `json:"country,omitempty"`
	Province  string `json:"province,omitempty"`
	District  string `json:"district,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
}

// PredictionLog is one stored prediction.
type PredictionLog struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Source    string          `json:"source"`
	BatchID   string          `json:"batch_id,omitempty"`
	Record    pipeline.Record `json:"record"`
	Label     string          `json:"label"`
	ProbLow   float64         `json:"prob_low"`
	ProbHigh  float64         `json:"prob_high"`
	Location  Location        `json:"location"`
	CreatedAt time.Time       `json:"created_at"`
}

// SavePredictions stores a set of predictions in one transaction.
func (s *Store) SavePredictions(ctx context.Context, logs []PredictionLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin")
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO predictions (
            run_id, source, batch_id, record, predicted_label, prob_low, prob_high,
            country, province, district, latitude, longitude, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return eris.Wrap(err, "prepare")
	}
	defer stmt.Close()

	for _, p := range logs {
		record, err := json.Marshal(p.Record)
		if err != nil {
			tx.Rollback()
			return eris.Wrap(err, "encode record")
		}
		created := p.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			p.RunID, p.Source, p.BatchID, string(record), p.Label, p.ProbLow, p.ProbHigh,
			p.Location.Country, p.Location.Province, p.Location.District, p.Location.Latitude, p.Location.Longitude,
			created.UTC(),
		); err != nil {
			tx.Rollback()
			return eris.Wrap(err, "insert prediction")
		}
	}
	return tx.Commit()
}

// RecentPredictions returns the newest predictions first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, run_id, source, batch_id, record, predicted_label, prob_low, prob_high,
               country, province, district, latitude, longitude, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "query predictions")
	}
	defer rows.Close()

	out := make([]PredictionLog, 0)
	for rows.Next() {
		var p PredictionLog
		var record string
		var batchID, country, province, district, lat, lon sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Source, &batchID, &record, &p.Label, &p.ProbLow, &p.ProbHigh,
			&country, &province, &district, &lat, &lon, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "scan prediction")
		}
		if err := json.Unmarshal([]byte(record), &p.Record); err != nil {
			return nil, eris.Wrapf(err, "decode record of prediction %d", p.ID)
		}
		p.BatchID = batchID.String
		p.Location = Location{
			Country:   country.String,
			Province:  province.String,
			District:  district.String,
			Latitude:  lat.String,
			Longitude: lon.String,
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
