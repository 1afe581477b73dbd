package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type VoteRecord struct {
	Name  string
	Score *float64
}

// RoundRecord is one locked voting round.
type RoundRecord struct {
	ID       string
	RoomCode string
	Host     string
	Average  *float64
	LockedAt time.Time
	Votes    []VoteRecord
}

// RecordRound stores a locked round and its votes, returning the round id.
func (d *DB) RecordRound(ctx context.Context, r RoundRecord) (string, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rounds (id, room_code, host, average)
		VALUES ($1, $2, $3, $4)
	`, id, r.RoomCode, r.Host, nullFloat(r.Average)); err != nil {
		return "", fmt.Errorf("inserting round: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO round_votes (round_id, position, name, score)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return "", fmt.Errorf("preparing vote insert: %w", err)
	}
	defer stmt.Close()

	for i, v := range r.Votes {
		if _, err := stmt.ExecContext(ctx, id, i, v.Name, nullFloat(v.Score)); err != nil {
			return "", fmt.Errorf("inserting vote: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing round: %w", err)
	}
	return id, nil
}

// ListRounds returns the most recent rounds of a room, newest first.
func (d *DB) ListRounds(ctx context.Context, roomCode string, limit int) ([]RoundRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, room_code, host, average, locked_at
		FROM rounds
		WHERE room_code = $1
		ORDER BY locked_at DESC
		LIMIT $2
	`, roomCode, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}
	defer rows.Close()

	var rounds []RoundRecord
	for rows.Next() {
		var r RoundRecord
		var avg sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.RoomCode, &r.Host, &avg, &r.LockedAt); err != nil {
			return nil, fmt.Errorf("scanning round: %w", err)
		}
		r.Average = floatPtr(avg)
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rounds: %w", err)
	}

	for i := range rounds {
		votes, err := d.roundVotes(ctx, rounds[i].ID)
		if err != nil {
			return nil, err
		}
		rounds[i].Votes = votes
	}
	return rounds, nil
}

func (d *DB) roundVotes(ctx context.Context, roundID string) ([]VoteRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT name, score FROM round_votes WHERE round_id = $1 ORDER BY position
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("listing votes: %w", err)
	}
	defer rows.Close()

	var votes []VoteRecord
	for rows.Next() {
		var v VoteRecord
		var s sql.NullFloat64
		if err := rows.Scan(&v.Name, &s); err != nil {
			return nil, fmt.Errorf("scanning vote: %w", err)
		}
		v.Score = floatPtr(s)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
