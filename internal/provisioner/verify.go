package provisioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
)

// verifyTimeout bounds the whole connectivity check.
const verifyTimeout = 10 * time.Second

// conn is the subset of *pgx.Conn the verifier uses, so tests can inject a
// fake without a running server.
type conn interface {
	pgxscan.Querier
	Close(ctx context.Context) error
}

// roleCheck is what the server reports about the connected role.
type roleCheck struct {
	RoleName   string `db:"rolname"`
	CanLogin   bool   `db:"rolcanlogin"`
	CanConnect bool   `db:"can_connect"`
	CanCreate  bool   `db:"can_create"`
}

const roleCheckQuery = `SELECT r.rolname,
       r.rolcanlogin,
       has_database_privilege(r.rolname, current_database(), 'CONNECT') AS can_connect,
       has_database_privilege(r.rolname, current_database(), 'CREATE')  AS can_create
  FROM pg_roles r
 WHERE r.rolname = current_user`

// Verifier logs in over TCP with the collected credentials. A successful
// login proves the policy rewrite took effect; the role check proves the
// grant did.
type Verifier struct {
	connect func(ctx context.Context, dsn string) (conn, error)
}

// NewVerifier returns a Verifier backed by pgx.
func NewVerifier() *Verifier {
	return &Verifier{connect: pgxConnect}
}

func pgxConnect(ctx context.Context, dsn string) (conn, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Verify connects with dsn and checks that user may log in and has CONNECT
// and CREATE on the database.
func (v *Verifier) Verify(ctx context.Context, dsn, user string) error {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	c, err := v.connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect as %s: %w", user, err)
	}
	defer func() { _ = c.Close(ctx) }()

	var rc roleCheck
	if err := pgxscan.Get(ctx, c, &rc, roleCheckQuery); err != nil {
		return fmt.Errorf("query role privileges: %w", err)
	}
	return rc.evaluate(user)
}

func (rc roleCheck) evaluate(user string) error {
	var errs []error
	if rc.RoleName != user {
		errs = append(errs, fmt.Errorf("connected as %q, expected %q", rc.RoleName, user))
	}
	if !rc.CanLogin {
		errs = append(errs, errors.New("role cannot log in"))
	}
	if !rc.CanConnect {
		errs = append(errs, errors.New("role lacks CONNECT on database"))
	}
	if !rc.CanCreate {
		errs = append(errs, errors.New("role lacks CREATE on database"))
	}
	return errors.Join(errs...)
}
