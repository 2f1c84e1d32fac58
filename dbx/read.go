/*
Copyright 2026 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dbx

import (
	"database/sql"
	"reflect"
	"unsafe"
)

// ScanRows calls collect for every result of a SQL query.
//
// ignore determines which [sql.Rows.Scan] errors should be ignored.
//
// If T is a struct, the columns of each row are assigned to visible
// fields of T, in field declaration order.
func ScanRows[T any](rows *sql.Rows, collect func(T), ignore func(error) bool) error {
	var zero, row T

	if t := reflect.TypeFor[T](); t.Kind() == reflect.Struct {
		fields := reflect.VisibleFields(t)
		ptrs := make([]any, len(fields))
		base := unsafe.Pointer(&row)
		for i, field := range fields {
			ptrs[i] = reflect.NewAt(field.Type, unsafe.Add(base, field.Offset)).Interface()
		}

		for rows.Next() {
			row = zero

			if err := rows.Scan(ptrs...); err != nil {
				if !ignore(err) {
					return err
				}
				continue
			}

			collect(row)
		}
	} else {
		var rowp any = &row

		for rows.Next() {
			row = zero

			if err := rows.Scan(rowp); err != nil {
				if !ignore(err) {
					return err
				}
				continue
			}

			collect(row)
		}
	}

	return rows.Err()
}

// ReadRows reads the results of a SQL query.
//
// expected is the expected number of rows, used only to size the
// returned slice.
// ignore determines which [sql.Rows.Scan] errors should be ignored.
//
// If T is a struct, the columns of each row are assigned to visible
// fields of T.
func ReadRows[T any](rows *sql.Rows, expected int, ignore func(error) bool) ([]T, error) {
	scanned := make([]T, 0, expected)

	if err := ScanRows(
		rows,
		func(row T) {
			scanned = append(scanned, row)
		},
		ignore,
	); err != nil {
		return nil, err
	}

	return scanned, nil
}
