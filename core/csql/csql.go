package csql

import (
	"database/sql"
	"log"

	_ "github.com/lib/pq" // load database driver for postgres
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// Cluster routes read traffic to a replica and write traffic to the
// primary. Both connections share the same schema. For single-server
// deployments, point both members at the same database.
type Cluster struct {
	Primary *DB
	Replica *DB
}

// Read returns the connection for read-only statements.
func (c Cluster) Read() *DB {
	if c.Replica != nil {
		return c.Replica
	}
	return c.Primary
}

// Write returns the connection for modifying statements.
func (c Cluster) Write() *DB {
	return c.Primary
}

// OpenCluster opens a primary and a replica connection with the same
// schema. An empty replica DSN reuses the primary for reads.
func OpenCluster(primaryDSN, replicaDSN, password, schema string) Cluster {
	primary := OpenWithSchema(primaryDSN, password, schema)
	if replicaDSN == "" || replicaDSN == primaryDSN {
		return Cluster{Primary: primary}
	}
	// the replica never runs DDL, it simply attaches to the schema
	replica := open(replicaDSN, password)
	return Cluster{Primary: primary, Replica: &DB{DB: replica, Schema: primary.Schema}}
}

// NewClusterWithDB wraps an existing sql.DB into a single-member
// cluster. Intended for tests that drive the backend with a mock.
func NewClusterWithDB(db *sql.DB, schema string) Cluster {
	return Cluster{Primary: &DB{DB: db, Schema: schema}}
}

func open(dataSourceName, password string) *sql.DB {
	dsn := dataSourceName
	if password != "" {
		dsn += " password=" + password
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	return db
}

// OpenWithSchema opens a postgres database with a schema.
// The schema gets created if it does not exist yet.
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	log.Println("connecting to postgres database: ", dataSourceName)
	db := open(dataSourceName, password)
	if len(schema) == 0 {
		schema = "public"
	} else {
		log.Println("selected database schema:", schema)
		_, err := db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		log.Println("clear schema error:", db.Schema, err.Error())
	}
}
