// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL for the coupons and coupon_history tables.
//
//go:embed migrations/001_schema.sql
var Schema string
