package catalog

// Schema contains the SQL statements to create the catalog database schema.
const Schema = `
-- Services table: one row per registered service name
CREATE TABLE IF NOT EXISTS services (
    id               TEXT PRIMARY KEY,
    name             TEXT UNIQUE NOT NULL,
    base_url         TEXT NOT NULL,
    health_check_url TEXT NOT NULL,
    metadata         TEXT,
    created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_services_name ON services(name);
`
