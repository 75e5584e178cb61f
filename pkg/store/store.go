package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nam-edi/playwright-analyst/pkg/config"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// Store provides persistence for all pwanalyst resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Transaction runs fn against a store bound to a single database
	// transaction; any error rolls the whole transaction back.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// User CRUD.
	GetUserByID(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id uint) error
	SeedUsers(ctx context.Context, users []config.BasicAuthUser) error

	// Session CRUD.
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	UpdateSessionLastActive(ctx context.Context, id uint, t time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteSessionByID(ctx context.Context, id uint) error
	DeleteExpiredSessions(ctx context.Context) error

	// API key CRUD.
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	ListAPIKeysByUser(ctx context.Context, userID uint) ([]APIKey, error)
	DeleteAPIKey(ctx context.Context, id uint) error
	UpdateAPIKeyLastUsed(ctx context.Context, id uint, t time.Time) error
	DeleteExpiredAPIKeys(ctx context.Context) error

	// Project CRUD.
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id uint) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id uint) error

	// Tags.
	GetOrCreateTag(ctx context.Context, projectID uint, name string) (*Tag, bool, error)
	ListTags(ctx context.Context, projectID uint) ([]Tag, error)
	AttachTag(ctx context.Context, test *Test, tag *Tag) error

	// Tests.
	FindTestByTestID(ctx context.Context, projectID uint, testID string) (*Test, error)
	FindTestByIdentity(ctx context.Context, projectID uint, title, filePath string, line, column int) (*Test, error)
	TestIDTaken(ctx context.Context, projectID uint, testID string, excludeID uint) (bool, error)
	CreateTest(ctx context.Context, t *Test) error
	SaveTest(ctx context.Context, t *Test) error
	GetTest(ctx context.Context, id uint) (*Test, error)
	ListTests(ctx context.Context, projectID uint, filter TestFilter) ([]Test, error)
	UpdateTestComment(ctx context.Context, id uint, comment string) error

	// Executions.
	CreateExecution(ctx context.Context, e *TestExecution) error
	GetExecution(ctx context.Context, id uint) (*TestExecution, error)
	ListExecutions(ctx context.Context, projectID uint) ([]TestExecution, error)
	DeleteExecution(ctx context.Context, id uint) error
	UpdateExecutionComment(ctx context.Context, id uint, comment string) error

	// Results.
	GetResult(ctx context.Context, executionID, testID uint) (*TestResult, error)
	CreateResult(ctx context.Context, r *TestResult) error
	SaveResult(ctx context.Context, r *TestResult) error
	ListResultsByExecution(ctx context.Context, executionID uint) ([]TestResult, error)
	ListFlakyResults(ctx context.Context, executionID uint) ([]TestResult, error)
	CountTests(ctx context.Context, projectID uint) (int64, error)
	CountResults(ctx context.Context, executionID uint) (int64, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// SQLite allows a single writer; pin the pool to one
		// connection so in-memory databases see a single store too.
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			return fmt.Errorf("getting underlying db: %w", dbErr)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Session{},
		&APIKey{},
		&Project{},
		&Tag{},
		&Test{},
		&TestExecution{},
		&TestResult{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Partial unique index: a non-empty test_id is unique within a
	// project while any number of tests may carry no id. Supported by
	// both sqlite and postgres.
	if err := s.db.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tests_project_test_id
		 ON tests(project_id, test_id) WHERE test_id <> ''`,
	).Error; err != nil {
		return fmt.Errorf("creating test id index: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Transaction runs fn against a transaction-bound copy of the store.
func (s *store) Transaction(
	ctx context.Context, fn func(tx Store) error,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{log: s.log, cfg: s.cfg, db: tx})
	})
}

// --- User CRUD ---

func (s *store) GetUserByID(
	ctx context.Context, id uint,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("getting user by id: %w", err)
	}

	return &user, nil
}

func (s *store) GetUserByUsername(
	ctx context.Context, username string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}

	return &user, nil
}

func (s *store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	return users, nil
}

func (s *store) CreateUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

func (s *store) UpdateUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	return nil
}

func (s *store) DeleteUser(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).
		Delete(&User{}, id).Error; err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	return nil
}

// SeedUsers upserts config-sourced users. Only users with source="config"
// are updated; users created by admins are preserved.
func (s *store) SeedUsers(
	ctx context.Context, users []config.BasicAuthUser,
) error {
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		role := u.Role
		if role == "" {
			role = "user"
		}

		var existing User

		result := s.db.WithContext(ctx).
			Where("username = ? AND source = ?", u.Username, SourceConfig).
			First(&existing)

		if result.Error == nil {
			existing.PasswordHash = string(hash)
			existing.Role = role

			if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
				return fmt.Errorf("updating config user %q: %w", u.Username, err)
			}
		} else {
			newUser := User{
				Username:     u.Username,
				PasswordHash: string(hash),
				Role:         role,
				Source:       SourceConfig,
			}

			if err := s.db.WithContext(ctx).
				Where("username = ?", u.Username).
				FirstOrCreate(&newUser).Error; err != nil {
				return fmt.Errorf("seeding config user %q: %w", u.Username, err)
			}
		}
	}

	s.log.WithField("count", len(users)).
		Info("Seeded users from config")

	return nil
}

// --- Session CRUD ---

func (s *store) CreateSession(
	ctx context.Context, session *Session,
) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	return nil
}

func (s *store) GetSessionByToken(
	ctx context.Context, token string,
) (*Session, error) {
	var session Session
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&session).Error; err != nil {
		return nil, fmt.Errorf("getting session by token: %w", err)
	}

	return &session, nil
}

func (s *store) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	return sessions, nil
}

func (s *store) UpdateSessionLastActive(
	ctx context.Context, id uint, t time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Update("last_active_at", t).Error; err != nil {
		return fmt.Errorf("updating session last active: %w", err)
	}

	return nil
}

func (s *store) DeleteSession(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

func (s *store) DeleteSessionByID(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).
		Delete(&Session{}, id).Error; err != nil {
		return fmt.Errorf("deleting session by id: %w", err)
	}

	return nil
}

func (s *store) DeleteExpiredSessions(ctx context.Context) error {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&Session{})
	if result.Error != nil {
		return fmt.Errorf("deleting expired sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Debug("Cleaned up expired sessions")
	}

	return nil
}

// --- API key CRUD ---

func (s *store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}

	return nil
}

func (s *store) GetAPIKeyByHash(
	ctx context.Context, hash string,
) (*APIKey, error) {
	var key APIKey
	if err := s.db.WithContext(ctx).
		Preload("Projects").
		Where("key_hash = ?", hash).
		First(&key).Error; err != nil {
		return nil, fmt.Errorf("getting api key by hash: %w", err)
	}

	return &key, nil
}

func (s *store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	return keys, nil
}

func (s *store) ListAPIKeysByUser(
	ctx context.Context, userID uint,
) ([]APIKey, error) {
	var keys []APIKey
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("listing api keys by user: %w", err)
	}

	return keys, nil
}

func (s *store) DeleteAPIKey(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).
		Delete(&APIKey{}, id).Error; err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}

	return nil
}

func (s *store) UpdateAPIKeyLastUsed(
	ctx context.Context, id uint, t time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", t).Error; err != nil {
		return fmt.Errorf("updating api key last used: %w", err)
	}

	return nil
}

func (s *store) DeleteExpiredAPIKeys(ctx context.Context) error {
	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now().UTC()).
		Delete(&APIKey{})
	if result.Error != nil {
		return fmt.Errorf("deleting expired api keys: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Debug("Cleaned up expired api keys")
	}

	return nil
}

// --- Project CRUD ---

func (s *store) CreateProject(ctx context.Context, p *Project) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	return nil
}

func (s *store) GetProject(
	ctx context.Context, id uint,
) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}

	return &p, nil
}

func (s *store) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	return projects, nil
}

func (s *store) UpdateProject(ctx context.Context, p *Project) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("updating project: %w", err)
	}

	return nil
}

// DeleteProject removes a project and everything it owns. Children are
// deleted explicitly so the cascade does not depend on driver-level
// foreign key enforcement.
func (s *store) DeleteProject(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("test_execution_id IN (?)",
				tx.Model(&TestExecution{}).
					Select("id").
					Where("project_id = ?", id),
			).
			Delete(&TestResult{}).Error; err != nil {
			return fmt.Errorf("deleting project results: %w", err)
		}

		if err := tx.
			Where("project_id = ?", id).
			Delete(&TestExecution{}).Error; err != nil {
			return fmt.Errorf("deleting project executions: %w", err)
		}

		if err := tx.Exec(
			"DELETE FROM test_tags WHERE test_id IN "+
				"(SELECT id FROM tests WHERE project_id = ?)", id,
		).Error; err != nil {
			return fmt.Errorf("deleting project tag links: %w", err)
		}

		if err := tx.
			Where("project_id = ?", id).
			Delete(&Test{}).Error; err != nil {
			return fmt.Errorf("deleting project tests: %w", err)
		}

		if err := tx.
			Where("project_id = ?", id).
			Delete(&Tag{}).Error; err != nil {
			return fmt.Errorf("deleting project tags: %w", err)
		}

		if err := tx.Exec(
			"DELETE FROM api_key_projects WHERE project_id = ?", id,
		).Error; err != nil {
			return fmt.Errorf("deleting project api key links: %w", err)
		}

		if err := tx.Delete(&Project{}, id).Error; err != nil {
			return fmt.Errorf("deleting project: %w", err)
		}

		return nil
	})
}

// --- Tags ---

// GetOrCreateTag returns the tag named name in the project, creating it
// with the next available palette color when missing. The second return
// value reports whether the tag was created.
func (s *store) GetOrCreateTag(
	ctx context.Context, projectID uint, name string,
) (*Tag, bool, error) {
	var tag Tag

	err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		First(&tag).Error
	if err == nil {
		return &tag, false, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("looking up tag %q: %w", name, err)
	}

	// Concurrent imports can collide on two unique indexes here:
	// another worker may win the race on the tag name, or a different
	// new tag may claim the color we just picked. Re-query the name
	// and re-pick the color on every failed insert.
	var createErr error

	for attempt := 0; attempt < len(tagPalette); attempt++ {
		var usedColors []string
		if err := s.db.WithContext(ctx).
			Model(&Tag{}).
			Where("project_id = ?", projectID).
			Pluck("color", &usedColors).Error; err != nil {
			return nil, false, fmt.Errorf("listing used tag colors: %w", err)
		}

		used := make(map[string]struct{}, len(usedColors))
		for _, c := range usedColors {
			used[c] = struct{}{}
		}

		tag = Tag{
			ProjectID: projectID,
			Name:      name,
			Color:     nextAvailableColor(used),
		}

		createErr = s.db.WithContext(ctx).Create(&tag).Error
		if createErr == nil {
			return &tag, true, nil
		}

		var existing Tag
		if qerr := s.db.WithContext(ctx).
			Where("project_id = ? AND name = ?", projectID, name).
			First(&existing).Error; qerr == nil {
			return &existing, false, nil
		}
	}

	return nil, false, fmt.Errorf("creating tag %q: %w", name, createErr)
}

func (s *store) ListTags(
	ctx context.Context, projectID uint,
) ([]Tag, error) {
	var tags []Tag
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("name ASC").
		Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	return tags, nil
}

// AttachTag associates a tag with a test. Re-attaching is a no-op.
func (s *store) AttachTag(
	ctx context.Context, test *Test, tag *Tag,
) error {
	if err := s.db.WithContext(ctx).
		Model(test).
		Omit("Tags.*").
		Association("Tags").
		Append(tag); err != nil {
		return fmt.Errorf("attaching tag %q: %w", tag.Name, err)
	}

	return nil
}

// --- Tests ---

func (s *store) FindTestByTestID(
	ctx context.Context, projectID uint, testID string,
) (*Test, error) {
	var t Test
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND test_id = ?", projectID, testID).
		First(&t).Error; err != nil {
		return nil, fmt.Errorf("finding test by test_id: %w", err)
	}

	return &t, nil
}

func (s *store) FindTestByIdentity(
	ctx context.Context,
	projectID uint,
	title, filePath string,
	line, column int,
) (*Test, error) {
	// Map conditions so GORM quotes "column" per dialect.
	var t Test
	if err := s.db.WithContext(ctx).
		Where(map[string]any{
			"project_id": projectID,
			"title":      title,
			"file_path":  filePath,
			"line":       line,
			"column":     column,
		}).
		First(&t).Error; err != nil {
		return nil, fmt.Errorf("finding test by identity: %w", err)
	}

	return &t, nil
}

// TestIDTaken reports whether another test in the project already holds
// the given test_id.
func (s *store) TestIDTaken(
	ctx context.Context, projectID uint, testID string, excludeID uint,
) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Test{}).
		Where("project_id = ? AND test_id = ? AND id <> ?",
			projectID, testID, excludeID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking test_id availability: %w", err)
	}

	return count > 0, nil
}

func (s *store) CreateTest(ctx context.Context, t *Test) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("creating test: %w", err)
	}

	return nil
}

func (s *store) SaveTest(ctx context.Context, t *Test) error {
	if err := s.db.WithContext(ctx).
		Omit("Tags", "Results").
		Save(t).Error; err != nil {
		return fmt.Errorf("saving test: %w", err)
	}

	return nil
}

func (s *store) GetTest(ctx context.Context, id uint) (*Test, error) {
	var t Test
	if err := s.db.WithContext(ctx).
		Preload("Tags").
		First(&t, id).Error; err != nil {
		return nil, fmt.Errorf("getting test: %w", err)
	}

	return &t, nil
}

// TestFilter narrows ListTests. Zero values mean "no constraint".
type TestFilter struct {
	Tag    string
	Search string
}

func (s *store) ListTests(
	ctx context.Context, projectID uint, filter TestFilter,
) ([]Test, error) {
	q := s.db.WithContext(ctx).
		Preload("Tags").
		Where("tests.project_id = ?", projectID)

	if filter.Tag != "" {
		q = q.Joins(
			"JOIN test_tags ON test_tags.test_id = tests.id "+
				"JOIN tags ON tags.id = test_tags.tag_id AND tags.name = ?",
			filter.Tag,
		)
	}

	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where(
			"tests.title LIKE ? OR tests.file_path LIKE ?",
			pattern, pattern,
		)
	}

	var tests []Test
	if err := q.
		Order("tests.file_path ASC, tests.line ASC").
		Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}

	return tests, nil
}

func (s *store) UpdateTestComment(
	ctx context.Context, id uint, comment string,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Test{}).
		Where("id = ?", id).
		Update("comment", comment).Error; err != nil {
		return fmt.Errorf("updating test comment: %w", err)
	}

	return nil
}

// --- Executions ---

func (s *store) CreateExecution(
	ctx context.Context, e *TestExecution,
) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("creating execution: %w", err)
	}

	return nil
}

func (s *store) GetExecution(
	ctx context.Context, id uint,
) (*TestExecution, error) {
	var e TestExecution
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, fmt.Errorf("getting execution: %w", err)
	}

	return &e, nil
}

func (s *store) ListExecutions(
	ctx context.Context, projectID uint,
) ([]TestExecution, error) {
	var executions []TestExecution
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("start_time DESC").
		Find(&executions).Error; err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	return executions, nil
}

func (s *store) DeleteExecution(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("test_execution_id = ?", id).
			Delete(&TestResult{}).Error; err != nil {
			return fmt.Errorf("deleting execution results: %w", err)
		}

		if err := tx.Delete(&TestExecution{}, id).Error; err != nil {
			return fmt.Errorf("deleting execution: %w", err)
		}

		return nil
	})
}

func (s *store) UpdateExecutionComment(
	ctx context.Context, id uint, comment string,
) error {
	if err := s.db.WithContext(ctx).
		Model(&TestExecution{}).
		Where("id = ?", id).
		Update("comment", comment).Error; err != nil {
		return fmt.Errorf("updating execution comment: %w", err)
	}

	return nil
}

// --- Results ---

func (s *store) GetResult(
	ctx context.Context, executionID, testID uint,
) (*TestResult, error) {
	var r TestResult
	if err := s.db.WithContext(ctx).
		Where("test_execution_id = ? AND test_id = ?", executionID, testID).
		First(&r).Error; err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}

	return &r, nil
}

func (s *store) CreateResult(ctx context.Context, r *TestResult) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("creating result: %w", err)
	}

	return nil
}

func (s *store) SaveResult(ctx context.Context, r *TestResult) error {
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return fmt.Errorf("saving result: %w", err)
	}

	return nil
}

func (s *store) ListResultsByExecution(
	ctx context.Context, executionID uint,
) ([]TestResult, error) {
	var results []TestResult
	if err := s.db.WithContext(ctx).
		Where("test_execution_id = ?", executionID).
		Order("start_time ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return results, nil
}

// ListFlakyResults returns results that failed at least once but
// ultimately passed, most-retried first.
func (s *store) ListFlakyResults(
	ctx context.Context, executionID uint,
) ([]TestResult, error) {
	var results []TestResult
	if err := s.db.WithContext(ctx).
		Where(
			"test_execution_id = ? AND retry > 0 AND status = ? AND expected_status <> ?",
			executionID, StatusPassed, StatusSkipped,
		).
		Order("retry DESC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing flaky results: %w", err)
	}

	return results, nil
}

func (s *store) CountTests(
	ctx context.Context, projectID uint,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Test{}).
		Where("project_id = ?", projectID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting tests: %w", err)
	}

	return count, nil
}

func (s *store) CountResults(
	ctx context.Context, executionID uint,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Where("test_execution_id = ?", executionID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}

	return count, nil
}
