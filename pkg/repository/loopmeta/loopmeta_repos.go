package loopmeta

// loop role configuration is stored in the table event_loop

import (
	"context"
	"fmt"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/repository"
)

func Create(ctx context.Context, conn repository.Querier,
	eventID int, item *model.LoopMetadata,
) error {
	_, err := conn.Exec(ctx,
		`insert into event_loop (event_id, loop_id, role, name)
		 values ($1,$2,$3,$4)`,
		eventID, item.LoopID, item.Role.String(), item.Name)
	return err
}

func LoadByEventID(ctx context.Context, conn repository.Querier, eventID int) (
	[]model.LoopMetadata, error,
) {
	rows, err := conn.Query(ctx,
		fmt.Sprintf("%s where event_id=$1 order by loop_id asc", selector),
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]model.LoopMetadata, 0)
	for rows.Next() {
		var item model.LoopMetadata
		var role string
		if err := rows.Scan(&item.LoopID, &role, &item.Name); err != nil {
			return nil, err
		}
		item.Role = model.ParseLoopRole(role)
		ret = append(ret, item)
	}
	return ret, rows.Err()
}

func DeleteByEventID(ctx context.Context, conn repository.Querier, eventID int) (
	int, error,
) {
	cmdTag, err := conn.Exec(ctx,
		"delete from event_loop where event_id=$1", eventID)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

const selector = `select loop_id, role, name from event_loop`
