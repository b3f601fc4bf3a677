package flagledger

// flag intervals are stored in the table flag_ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/repository"
)

func Create(ctx context.Context, conn repository.Querier,
	eventID, sessionID int, item *model.FlagDuration,
) error {
	_, err := conn.Exec(ctx,
		`insert into flag_ledger (event_id, session_id, flag, start_time, end_time)
		 values ($1,$2,$3,$4,$5)`,
		eventID, sessionID, int(item.Flag), item.StartTime, item.EndTime)
	return err
}

func LoadBySession(ctx context.Context, conn repository.Querier,
	eventID, sessionID int,
) ([]*model.FlagDuration, error) {
	rows, err := conn.Query(ctx,
		fmt.Sprintf("%s where event_id=$1 and session_id=$2 order by start_time asc",
			selector),
		eventID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]*model.FlagDuration, 0)
	for rows.Next() {
		var item model.FlagDuration
		var flag int
		if err := rows.Scan(&flag, &item.StartTime, &item.EndTime); err != nil {
			return nil, err
		}
		item.Flag = model.Flag(flag)
		ret = append(ret, &item)
	}
	return ret, rows.Err()
}

// UpdateEndTime fills the end time of the interval identified by flag and
// start time.
func UpdateEndTime(ctx context.Context, conn repository.Querier,
	eventID, sessionID int, flag model.Flag, startTime, endTime time.Time,
) (int, error) {
	cmdTag, err := conn.Exec(ctx,
		`update flag_ledger set end_time=$1
		 where event_id=$2 and session_id=$3 and flag=$4 and start_time=$5`,
		endTime, eventID, sessionID, int(flag), startTime)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

// deletes all entries of a session, used by the external archival job
func DeleteBySession(ctx context.Context, conn repository.Querier,
	eventID, sessionID int,
) (int, error) {
	cmdTag, err := conn.Exec(ctx,
		"delete from flag_ledger where event_id=$1 and session_id=$2",
		eventID, sessionID)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

const selector = `select flag, start_time, end_time from flag_ledger`
