package lap

// per-lap log entries are stored in the table lap_log;
// the position snapshot is kept as jsonb

import (
	"context"
	"fmt"

	"github.com/ohler55/ojg/oj"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/repository"
)

func Create(ctx context.Context, conn repository.Querier, record *model.LapRecord) error {
	data, err := oj.Marshal(record.Position)
	if err != nil {
		return fmt.Errorf("serialize position snapshot: %w", err)
	}
	_, err = conn.Exec(ctx,
		`insert into lap_log (event_id, session_id, car_number, lap_number,
		 flag, data, record_stamp) values ($1,$2,$3,$4,$5,$6,$7)`,
		record.EventID, record.SessionID, record.CarNumber, record.LapNumber,
		int(record.Flag), data, record.RecordStamp)
	return err
}

// LoadByMaxLap loads all records of a session up to and including maxLap.
func LoadByMaxLap(ctx context.Context, conn repository.Querier,
	eventID, sessionID, maxLap int,
) ([]*model.LapRecord, error) {
	rows, err := conn.Query(ctx,
		fmt.Sprintf("%s where event_id=$1 and session_id=$2 and lap_number<=$3 "+
			"order by lap_number asc, car_number asc", selector),
		eventID, sessionID, maxLap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]*model.LapRecord, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	return ret, rows.Err()
}

// deletes all entries of a session, used by the external archival job
func DeleteBySession(ctx context.Context, conn repository.Querier,
	eventID, sessionID int,
) (int, error) {
	cmdTag, err := conn.Exec(ctx,
		"delete from lap_log where event_id=$1 and session_id=$2",
		eventID, sessionID)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

const selector = `select event_id, session_id, car_number, lap_number,
 flag, data, record_stamp from lap_log`

func scan(rows interface {
	Scan(dest ...interface{}) error
},
) (*model.LapRecord, error) {
	var item model.LapRecord
	var flag int
	var data []byte
	if err := rows.Scan(&item.EventID, &item.SessionID, &item.CarNumber,
		&item.LapNumber, &flag, &data, &item.RecordStamp); err != nil {
		return nil, err
	}
	item.Flag = model.Flag(flag)
	if len(data) > 0 {
		var pos model.CarPosition
		if err := oj.Unmarshal(data, &pos); err != nil {
			return nil, fmt.Errorf("deserialize position snapshot: %w", err)
		}
		item.Position = &pos
	}
	return &item, nil
}
