package influxutils

import (
	"fmt"
	"strings"
	"time"

	influx "github.com/influxdata/influxdb/client/v2"
	"k8s.io/klog"

	"github.com/bcaldwell/plaid2qfx/pkg/config"
	"github.com/bcaldwell/plaid2qfx/pkg/statement"
)

func CreateInfluxClient(secrets config.InfluxSecrets) (influx.Client, error) {
	return influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     secrets.InfluxEndpoint,
		Username: secrets.InfluxUsername,
		Password: secrets.InfluxPassword,
	})
}

func CreateDatabase(influxClient influx.Client, name string) error {
	name = strings.Split(name, " ")[0]

	q := influx.NewQuery(fmt.Sprintf("CREATE DATABASE %s", name), "", "")
	response, err := influxClient.Query(q)
	if err != nil {
		return fmt.Errorf("failed to create influx database %s: %w", name, err)
	}
	if response.Error() != nil {
		return fmt.Errorf("failed to create influx database %s: %w", name, response.Error())
	}
	return nil
}

// StatementRecorder writes one point per exported statement account with its
// balances and the number of transactions in the file.
type StatementRecorder struct {
	client      influx.Client
	database    string
	measurement string
}

func NewStatementRecorder(client influx.Client, database, measurement string) (*StatementRecorder, error) {
	if err := CreateDatabase(client, database); err != nil {
		return nil, err
	}

	return &StatementRecorder{
		client:      client,
		database:    database,
		measurement: measurement,
	}, nil
}

func (r *StatementRecorder) Record(item string, fragments []statement.Fragment, t time.Time) error {
	bp, err := influx.NewBatchPoints(influx.BatchPointsConfig{
		Database:  r.database,
		Precision: "s",
	})
	if err != nil {
		return fmt.Errorf("error creating InfluxDB point batch: %w", err)
	}

	points, err := Points(r.measurement, item, fragments, t)
	if err != nil {
		return err
	}
	bp.AddPoints(points)

	if err := r.client.Write(bp); err != nil {
		return fmt.Errorf("error writing to influx: %w", err)
	}

	klog.Infof("Wrote %d statement points to influx for %s\n", len(points), item)
	return nil
}

func (r *StatementRecorder) Close() error {
	return r.client.Close()
}

func Points(measurement, item string, fragments []statement.Fragment, t time.Time) ([]*influx.Point, error) {
	points := make([]*influx.Point, 0, len(fragments))

	for _, f := range fragments {
		tags := map[string]string{
			"item":     item,
			"account":  f.Ref.AccountID,
			"type":     f.Ref.Type.String(),
			"kind":     f.Kind.String(),
			"currency": f.Currency,
		}
		fields := map[string]interface{}{
			"ledger":       f.Ledger.Amount.InexactFloat64(),
			"available":    f.Available.Amount.InexactFloat64(),
			"transactions": len(f.Entries),
		}

		pt, err := influx.NewPoint(measurement, tags, fields, t)
		if err != nil {
			return nil, fmt.Errorf("error adding new point: %w", err)
		}
		points = append(points, pt)
	}

	return points, nil
}
