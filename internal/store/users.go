package store

import (
	"context"
	"time"
)

type User struct {
	ID        int64
	Username  string
	Status    string
	CreatedAt time.Time
}

type Group struct {
	ID          int64
	Name        string
	Description string
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (username, password_hash, status, created_at) VALUES (?, ?, 'active', ?)`, username, passwordHash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrAlreadyExists
		}
		return User{}, err
	}
	id, err := res.LastInsertId()
	return User{ID: id, Username: username, Status: "active"}, err
}

func (s *Store) CreateGroup(ctx context.Context, name, description string) (Group, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO groups (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		if isUniqueViolation(err) {
			return Group{}, ErrAlreadyExists
		}
		return Group{}, err
	}
	id, err := res.LastInsertId()
	return Group{ID: id, Name: name, Description: description}, err
}

func (s *Store) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO user_groups (user_id, group_id) VALUES (?, ?)`, userID, groupID)
	return err
}

// UserGroupIDs implements the permissions.Store contract.
func (s *Store) UserGroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM user_groups WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
