package database

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const (
	mysqlDuplicateEntry   = 1062
	postgresUniqueViolate = "23505"
)

// UniquenessChecker reports whether err is the storage engine rejecting an
// insert on a unique key
type UniquenessChecker func(err error) bool

// UniquenessCheckerFor returns the checker for a gorm dialector name
// ("mysql", "postgres", "sqlite"). Unknown engines match a violation from
// any supported engine.
func UniquenessCheckerFor(dialect string) UniquenessChecker {
	switch dialect {
	case "mysql":
		return isMySQLDuplicate
	case "postgres":
		return isPostgresDuplicate
	case "sqlite":
		return isSQLiteDuplicate
	default:
		return IsUniquenessViolation
	}
}

// IsUniquenessViolation matches a uniqueness violation from any supported engine
func IsUniquenessViolation(err error) bool {
	return isMySQLDuplicate(err) || isPostgresDuplicate(err) || isSQLiteDuplicate(err)
}

func isTranslatedDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func isMySQLDuplicate(err error) bool {
	if isTranslatedDuplicate(err) {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func isPostgresDuplicate(err error) bool {
	if isTranslatedDuplicate(err) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolate
}

func isSQLiteDuplicate(err error) bool {
	if isTranslatedDuplicate(err) {
		return true
	}
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
