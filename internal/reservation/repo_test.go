package reservation

import (
	"errors"
	"fmt"
	"testing"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

func TestMapWriteErrRaceLosers(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"duplicate key", &mysqldrv.MySQLError{Number: 1062}, true},
		{"deadlock victim", &mysqldrv.MySQLError{Number: 1213}, true},
		{"lock wait timeout", &mysqldrv.MySQLError{Number: 1205}, true},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, true},
		{"wrapped deadlock", fmt.Errorf("create: %w", &mysqldrv.MySQLError{Number: 1213}), true},
		{"access denied", &mysqldrv.MySQLError{Number: 1045}, false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		got := mapWriteErr(tc.err)
		if tc.want && !errors.Is(got, ErrConcurrentModification) {
			t.Fatalf("%s: expected ErrConcurrentModification, got %v", tc.name, got)
		}
		if !tc.want && errors.Is(got, ErrConcurrentModification) {
			t.Fatalf("%s: unexpected ErrConcurrentModification", tc.name)
		}
	}
}
