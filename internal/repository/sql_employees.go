package repository

import (
	"context"
	"fmt"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

const employeeColumns = "id, account_id, login, is_admin, display_name, created_at"

// CreateEmployee implements EmployeeStore. Login or account collisions
// return ErrConflict.
func (s *SQLStore) CreateEmployee(ctx context.Context, e *models.Employee) error {
	id, err := s.insert(ctx,
		`INSERT INTO employees (account_id, login, is_admin, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.AccountID, e.Login, e.IsAdmin, e.DisplayName, utc(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("create employee %s: %w", e.Login, err)
	}
	e.ID = id
	return nil
}

func (s *SQLStore) GetEmployee(ctx context.Context, accountID int64) (*models.Employee, error) {
	var e models.Employee
	if err := s.get(ctx, &e, `SELECT `+employeeColumns+` FROM employees WHERE account_id = ?`, accountID); err != nil {
		return nil, notFound(err, "employee", accountID)
	}
	return &e, nil
}

func (s *SQLStore) GetEmployeeByLogin(ctx context.Context, login string) (*models.Employee, error) {
	var e models.Employee
	if err := s.get(ctx, &e, `SELECT `+employeeColumns+` FROM employees WHERE login = ?`, login); err != nil {
		return nil, notFound(err, "employee", login)
	}
	return &e, nil
}

func (s *SQLStore) ListEmployees(ctx context.Context) ([]models.Employee, error) {
	var out []models.Employee
	if err := s.selectRows(ctx, &out, `SELECT `+employeeColumns+` FROM employees ORDER BY login`); err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return out, nil
}

func (s *SQLStore) SetEmployeeAdmin(ctx context.Context, accountID int64, isAdmin bool) error {
	return s.execOne(ctx, "employee", accountID,
		`UPDATE employees SET is_admin = ? WHERE account_id = ?`, isAdmin, accountID)
}

// DeleteEmployee removes the identity row and releases any tickets assigned
// to it. Messages keep their employee_account_id for the audit trail.
func (s *SQLStore) DeleteEmployee(ctx context.Context, accountID int64) error {
	if err := s.execOne(ctx, "employee", accountID,
		`DELETE FROM employees WHERE account_id = ?`, accountID); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `UPDATE tickets SET assigned_to = NULL WHERE assigned_to = ?`, accountID); err != nil {
		return fmt.Errorf("release tickets of %d: %w", accountID, err)
	}
	return nil
}
