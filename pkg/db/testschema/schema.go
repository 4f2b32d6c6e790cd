// Package testschema holds SQLite renditions of the migrations for package tests.
package testschema

const Users = `CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	email TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	provider_customer_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`

const Services = `CREATE TABLE services (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	price_reference TEXT,
	building_type TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
)`

const Bookings = `CREATE TABLE bookings (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	service_id INTEGER NOT NULL,
	property_id INTEGER NOT NULL,
	assessment_time DATETIME,
	contact_details TEXT NOT NULL DEFAULT '{}',
	building_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL
)`

const Invoices = `CREATE TABLE invoices (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	provider TEXT NOT NULL DEFAULT 'stripe',
	provider_invoice_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	amount_due INTEGER NOT NULL DEFAULT 0,
	amount_paid INTEGER,
	currency TEXT NOT NULL DEFAULT '',
	due_date DATETIME,
	hosted_url TEXT NOT NULL DEFAULT '',
	pdf_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`

const InvoiceBookings = `CREATE TABLE invoice_bookings (
	invoice_id INTEGER NOT NULL,
	booking_id INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (invoice_id, booking_id)
)`

const Notifications = `CREATE TABLE notifications (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	meta TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	read_at DATETIME
)`

const PaymentEvents = `CREATE TABLE payment_events (
	id INTEGER PRIMARY KEY,
	provider TEXT NOT NULL,
	provider_event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	received_at DATETIME NOT NULL,
	processed_at DATETIME,
	UNIQUE (provider, provider_event_id)
)`

// All returns every table in dependency order.
func All() []string {
	return []string{Users, Services, Bookings, Invoices, InvoiceBookings, Notifications, PaymentEvents}
}
