package database

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/kidcare-enrollment-api/pkg/config"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("create enrollment: %w", &pq.Error{Code: "23505", Constraint: "enrollments_active_student_class_uniq"})

	assert.True(t, IsUniqueViolation(err, "enrollments_active_student_class_uniq"))
	assert.True(t, IsUniqueViolation(err, ""))
	assert.False(t, IsUniqueViolation(err, "waitlist_entries_active_uniq"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(fmt.Errorf("boom"), ""))
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "kidcare", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=kidcare sslmode=disable", dsn)
}
