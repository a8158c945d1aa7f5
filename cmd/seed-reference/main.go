// Command seed-reference populates the vehicle make/model catalog and the
// standard sensor list: one-shot setup data the resolve stage looks up
// during vehicle linking and sensor resolution, rather than data any
// pipeline stage writes itself.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/overdrivelabs/dtcpipe/internal/config"
	"github.com/overdrivelabs/dtcpipe/internal/migrations"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/vehiclenlp"
)

// standardSensors is a hardcoded reference catalog of standard automotive
// sensors, seeded once into the flat sensor reference table
// dtc_related_sensors links against.
var standardSensors = []struct {
	name, sensorType, typicalRange, unit string
}{
	{"Mass Air Flow Sensor", "maf", "2-7", "g/s"},
	{"Oxygen Sensor (Upstream)", "o2", "0.1-0.9", "V"},
	{"Oxygen Sensor (Downstream)", "o2", "0.1-0.9", "V"},
	{"Manifold Absolute Pressure Sensor", "map", "20-105", "kPa"},
	{"Throttle Position Sensor", "tps", "0.5-4.5", "V"},
	{"Coolant Temperature Sensor", "ect", "-40-215", "F"},
	{"Intake Air Temperature Sensor", "iat", "-40-300", "F"},
	{"Crankshaft Position Sensor", "ckp", "0-5", "V"},
	{"Camshaft Position Sensor", "cmp", "0-5", "V"},
	{"Knock Sensor", "ks", "0-5", "V"},
	{"Vehicle Speed Sensor", "vss", "0-5", "V"},
	{"Wheel Speed Sensor (ABS)", "abs", "0-5", "V"},
	{"Fuel Level Sensor", "fuel", "0-90", "ohm"},
	{"EGR Position Sensor", "egr", "0-5", "V"},
	{"Boost Pressure Sensor", "boost", "0-250", "kPa"},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()

	if err := migrations.Apply(cfg.PostgresDSN); err != nil {
		logger.Error("seed-reference: apply migrations", "err", err)
		os.Exit(1)
	}

	dbCfg := db.DefaultConfig(cfg.PostgresDSN)
	pool, err := db.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("seed-reference: connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := seedVehicleCatalog(ctx, pool, logger); err != nil {
		logger.Error("seed-reference: seed vehicle catalog", "err", err)
		os.Exit(1)
	}
	if err := seedSensors(ctx, pool, logger); err != nil {
		logger.Error("seed-reference: seed sensors", "err", err)
		os.Exit(1)
	}

	logger.Info("seed-reference: done")
}

func seedVehicleCatalog(ctx context.Context, pool *db.Pool, logger *slog.Logger) error {
	var makeCount, modelCount int
	for make_, models := range vehiclenlp.Catalog() {
		makeID, err := upsertMake(ctx, pool, make_)
		if err != nil {
			return err
		}
		makeCount++

		for _, model := range models {
			if _, err := pool.Q(ctx).Exec(ctx,
				`INSERT INTO vehicle_models (id, make_id, name, created_at)
				 VALUES ($1, $2, $3, now())
				 ON CONFLICT (make_id, name) DO NOTHING`,
				uuid.New().String(), makeID, model); err != nil {
				return err
			}
			modelCount++
		}
	}
	logger.Info("seeded vehicle catalog", "makes", makeCount, "models", modelCount)
	return nil
}

func upsertMake(ctx context.Context, pool *db.Pool, name string) (string, error) {
	var id string
	row := pool.Q(ctx).QueryRow(ctx, `SELECT id FROM vehicle_makes WHERE name = $1`, name)
	if row.Scan(&id) == nil {
		return id, nil
	}
	id = uuid.New().String()
	_, err := pool.Q(ctx).Exec(ctx,
		`INSERT INTO vehicle_makes (id, name, created_at) VALUES ($1, $2, now())`, id, name)
	return id, err
}

func seedSensors(ctx context.Context, pool *db.Pool, logger *slog.Logger) error {
	var count int
	for _, sn := range standardSensors {
		var id string
		row := pool.Q(ctx).QueryRow(ctx, `SELECT id FROM sensors WHERE lower(name) = lower($1)`, sn.name)
		if row.Scan(&id) == nil {
			continue
		}
		if _, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO sensors (id, name, sensor_type, typical_range, unit, created_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			uuid.New().String(), sn.name, sn.sensorType, sn.typicalRange, sn.unit); err != nil {
			return err
		}
		count++
	}
	logger.Info("seeded sensors", "inserted", count)
	return nil
}
