package db

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"

	"github.com/jonathan/iety/internal/sources/gdelt"
)

// eventInsertChunk bounds rows per statement well under the 65535
// parameter limit.
const eventInsertChunk = 500

var eventColumns = []string{
	"global_event_id", "sqldate", "month_key", "year", "month", "day", "fraction_date",
	"actor1_code", "actor1_name", "actor1_country_code", "actor1_known_group_code", "actor1_ethnic_code",
	"actor1_religion1_code", "actor1_religion2_code", "actor1_type1_code", "actor1_type2_code", "actor1_type3_code",
	"actor2_code", "actor2_name", "actor2_country_code", "actor2_known_group_code", "actor2_ethnic_code",
	"actor2_religion1_code", "actor2_religion2_code", "actor2_type1_code", "actor2_type2_code", "actor2_type3_code",
	"is_root_event", "event_code", "event_base_code", "event_root_code", "quad_class", "goldstein_scale",
	"num_mentions", "num_sources", "num_articles", "avg_tone",
	"actor1_geo_type", "actor1_geo_fullname", "actor1_geo_country_code", "actor1_geo_adm1_code", "actor1_geo_lat", "actor1_geo_long",
	"actor2_geo_type", "actor2_geo_fullname", "actor2_geo_country_code", "actor2_geo_adm1_code", "actor2_geo_lat", "actor2_geo_long",
	"action_geo_type", "action_geo_fullname", "action_geo_country_code", "action_geo_adm1_code", "action_geo_lat", "action_geo_long",
	"source_url",
}

// InsertEvents inserts events, skipping any already stored for the same
// (global_event_id, month_key). Returns the number of new rows.
func (db *DB) InsertEvents(ctx context.Context, events []gdelt.Event) (int, error) {
	inserted := 0
	for start := 0; start < len(events); start += eventInsertChunk {
		end := min(start+eventInsertChunk, len(events))
		query, args := buildEventInsert(events[start:end])
		tag, err := db.pool.Exec(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert gdelt events: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func buildEventInsert(events []gdelt.Event) (string, []any) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("gdelt.events")
	ib.Cols(eventColumns...)
	for _, e := range events {
		values := []any{
			e.GlobalEventID, e.SQLDate, e.MonthKey, e.Year, e.Month, e.Day, e.FractionDate,
		}
		values = append(values, actorValues(e.Actor1)...)
		values = append(values, actorValues(e.Actor2)...)
		values = append(values,
			e.IsRootEvent, nullString(e.EventCode), nullString(e.EventBaseCode), nullString(e.EventRootCode),
			e.QuadClass, e.GoldsteinScale, e.NumMentions, e.NumSources, e.NumArticles, e.AvgTone,
		)
		values = append(values, geoValues(e.Actor1Geo)...)
		values = append(values, geoValues(e.Actor2Geo)...)
		values = append(values, geoValues(e.ActionGeo)...)
		values = append(values, nullString(e.SourceURL))
		ib.Values(values...)
	}
	query, args := ib.Build()
	return query + " ON CONFLICT (global_event_id, month_key) DO NOTHING", args
}

func actorValues(a gdelt.Actor) []any {
	return []any{
		nullString(a.Code), nullString(a.Name), nullString(a.CountryCode), nullString(a.KnownGroupCode),
		nullString(a.EthnicCode), nullString(a.Religion1Code), nullString(a.Religion2Code),
		nullString(a.Type1Code), nullString(a.Type2Code), nullString(a.Type3Code),
	}
}

func geoValues(g gdelt.Geo) []any {
	return []any{g.Type, nullString(g.FullName), nullString(g.CountryCode), nullString(g.ADM1Code), g.Lat, g.Long}
}
