package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crm-forwarder/internal/config"
	"crm-forwarder/internal/models"
)

// BinlogSource tails the CRM database's binlog and turns each changed row
// into a ChangeEvent: the table becomes the entity logical name, the row
// columns become the attribute map.
type BinlogSource struct {
	syncer       *replication.BinlogSyncer
	streamer     *replication.BinlogStreamer
	position     mysql.Position
	positionFile string
	currentFile  string
	tables       map[uint64]*replication.TableMapEvent // Cache table map events
	columnNames  map[string][]string                   // Cache column names by "database.table"
	userColumn   string
	db           *sql.DB // Column name lookups for servers without binlog_row_metadata
	logger       *logrus.Logger
}

// NewBinlogSource starts binlog replication from the saved position.
func NewBinlogSource(cfg config.MySQLConfig, blCfg config.BinlogConfig, logger *logrus.Logger) (*BinlogSource, error) {
	syncCfg := replication.BinlogSyncerConfig{
		ServerID: cfg.ServerID,
		Flavor:   cfg.Flavor,
		Host:     cfg.Host,
		Port:     uint16(cfg.Port),
		User:     cfg.User,
		Password: cfg.Password,
	}
	syncer := replication.NewBinlogSyncer(syncCfg)

	position := loadPosition(blCfg.PositionFile, blCfg.StartPosition, logger)

	streamer, err := syncer.StartSync(position)
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to start binlog sync: %w", err)
	}
	logger.Infof("Started binlog sync from position: %s:%d", position.Name, position.Pos)

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", cfg.User, cfg.Password, cfg.Host, cfg.Port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &BinlogSource{
		syncer:       syncer,
		streamer:     streamer,
		position:     position,
		positionFile: blCfg.PositionFile,
		currentFile:  position.Name,
		tables:       make(map[uint64]*replication.TableMapEvent),
		columnNames:  make(map[string][]string),
		userColumn:   blCfg.UserColumn,
		db:           db,
		logger:       logger,
	}, nil
}

// loadPosition reads a "filename:position" pair from the position file.
func loadPosition(path string, startPos uint32, logger *logrus.Logger) mysql.Position {
	position := mysql.Position{Pos: startPos}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return position
	}

	posStr := string(data)
	lastColon := strings.LastIndexByte(posStr, ':')
	if lastColon > 0 && lastColon < len(posStr)-1 {
		var pos uint32
		if _, err := fmt.Sscanf(posStr[lastColon+1:], "%d", &pos); err == nil {
			position.Name = posStr[:lastColon]
			position.Pos = pos
			logger.Infof("Loaded binlog position from file: %s:%d", position.Name, position.Pos)
			return position
		}
	}

	// Old format: just the filename
	position.Name = posStr
	logger.Infof("Loaded binlog position from file: %s", position.Name)
	return position
}

// savePosition persists the current binlog position.
func (s *BinlogSource) savePosition(name string, pos uint32) error {
	if name == "" {
		name = s.currentFile
	}
	if name == "" {
		return nil
	}
	posStr := fmt.Sprintf("%s:%d", name, pos)
	if err := os.WriteFile(s.positionFile, []byte(posStr), 0644); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	s.position.Name = name
	s.position.Pos = pos
	s.currentFile = name
	return nil
}

// Run reads binlog events and emits one ChangeEvent per affected row until
// the context is cancelled.
func (s *BinlogSource) Run(ctx context.Context, emit func(*models.ChangeEvent)) error {
	s.logger.Info("Starting binlog change-event source...")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, stopping binlog source")
			return nil
		default:
			event, err := s.readEvent(ctx)
			if err != nil {
				// GetEvent uses a short timeout; an idle binlog is not an error
				if errors.Is(err, context.DeadlineExceeded) ||
					strings.Contains(err.Error(), "context deadline exceeded") {
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Errorf("Error reading binlog event: %v", err)
				time.Sleep(1 * time.Second)
				continue
			}

			switch e := event.Event.(type) {
			case *replication.TableMapEvent:
				s.tables[e.TableID] = e
				s.logger.Debugf("Cached table map for %s.%s (ID: %d)", string(e.Schema), string(e.Table), e.TableID)

			case *replication.RowsEvent:
				messageName := messageNameFor(event.Header.EventType)
				if messageName == "" {
					s.logger.Debugf("Unhandled row event type: %d", event.Header.EventType)
					continue
				}

				events, err := s.changeEvents(e, event.Header, messageName)
				if err != nil {
					s.logger.Errorf("Error processing %s event: %v", messageName, err)
					continue
				}
				for _, changeEvent := range events {
					emit(changeEvent)
				}

			case *replication.RotateEvent:
				s.logger.Infof("Binlog rotated to: %s", string(e.NextLogName))

			case *replication.QueryEvent:
				s.logger.Debugf("Query event: %s", string(e.Query))

			default:
				s.logger.Debugf("Unhandled event type: %T", e)
			}
		}
	}
}

// readEvent reads the next binlog event and keeps the position file current.
func (s *BinlogSource) readEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	event, err := s.streamer.GetEvent(readCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get binlog event: %w", err)
	}

	if e, ok := event.Event.(*replication.RotateEvent); ok {
		s.currentFile = string(e.NextLogName)
		if err := s.savePosition(s.currentFile, uint32(e.Position)); err != nil {
			s.logger.Warnf("Failed to save position: %v", err)
		}
	} else if event.Header.LogPos > 0 {
		if err := s.savePosition(s.currentFile, event.Header.LogPos); err != nil {
			s.logger.Warnf("Failed to save position: %v", err)
		}
	}

	return event, nil
}

// messageNameFor maps binlog row event types to CRM message names.
func messageNameFor(eventType replication.EventType) string {
	switch eventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return "Create"
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return "Update"
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return "Delete"
	default:
		return ""
	}
}

// changeEvents builds one ChangeEvent per affected row. For updates only the
// new row images are forwarded.
func (s *BinlogSource) changeEvents(event *replication.RowsEvent, header *replication.EventHeader, messageName string) ([]*models.ChangeEvent, error) {
	tableMap, ok := s.tables[event.TableID]
	if !ok {
		return nil, fmt.Errorf("table map not found for table ID %d", event.TableID)
	}

	database := string(event.Table.Schema)
	table := string(event.Table.Table)

	columnNames, err := s.columnNamesFor(tableMap, database, table)
	if err != nil {
		return nil, err
	}

	rows := event.Rows
	if messageName == "Update" {
		// Rows alternate [old, new, old, new, ...]; keep the new images
		updated := make([][]interface{}, 0, len(rows)/2)
		for i := 1; i < len(rows); i += 2 {
			updated = append(updated, rows[i])
		}
		rows = updated
	}

	occurredAt := time.Unix(int64(header.Timestamp), 0).UTC()
	events := make([]*models.ChangeEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, s.buildEvent(database, table, messageName, columnNames, row, occurredAt))
	}
	return events, nil
}

// buildEvent projects one row into a ChangeEvent.
func (s *BinlogSource) buildEvent(database, table, messageName string, columnNames []string, row []interface{}, occurredAt time.Time) *models.ChangeEvent {
	attributes := make(map[string]interface{}, len(row))
	for j := 0; j < len(row) && j < len(columnNames); j++ {
		attributes[columnNames[j]] = normalizeValue(row[j])
	}

	return &models.ChangeEvent{
		UserID:      userIDFrom(attributes, s.userColumn),
		MessageName: messageName,
		LogicalName: table,
		ID:          recordID(database, table, attributes),
		Attributes:  attributes,
		OccurredAt:  occurredAt,
	}
}

// columnNamesFor returns column names from the table map when the server
// writes binlog_row_metadata, otherwise from INFORMATION_SCHEMA (cached).
func (s *BinlogSource) columnNamesFor(tableMap *replication.TableMapEvent, database, table string) ([]string, error) {
	if len(tableMap.ColumnName) > 0 {
		names := make([]string, len(tableMap.ColumnName))
		for i, col := range tableMap.ColumnName {
			names[i] = string(col)
		}
		return names, nil
	}

	cacheKey := fmt.Sprintf("%s.%s", database, table)
	if names, ok := s.columnNames[cacheKey]; ok {
		return names, nil
	}

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := s.db.Query(query, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	s.columnNames[cacheKey] = names
	s.logger.Debugf("Fetched %d column names for %s.%s", len(names), database, table)
	return names, nil
}

// normalizeValue converts []byte column values to strings so the attribute
// map serializes as text rather than base64.
func normalizeValue(value interface{}) interface{} {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

// recordID derives the record identifier from the row. A uuid-valued id
// column is used directly; anything else is hashed into a deterministic
// uuid so redelivery of the same row addresses the same blob.
func recordID(database, table string, attributes map[string]interface{}) uuid.UUID {
	for _, column := range []string{"id", table + "id", table + "_id"} {
		value, ok := attributes[column]
		if !ok || value == nil {
			continue
		}
		if str, ok := value.(string); ok {
			if id, err := uuid.Parse(str); err == nil {
				return id
			}
		}
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s.%s/%v", database, table, value)))
	}
	return uuid.New()
}

// userIDFrom reads the initiating user id from the configured row column.
func userIDFrom(attributes map[string]interface{}, userColumn string) uuid.UUID {
	if userColumn == "" {
		return uuid.Nil
	}
	if str, ok := attributes[userColumn].(string); ok {
		if id, err := uuid.Parse(str); err == nil {
			return id
		}
	}
	return uuid.Nil
}

// Close stops replication and closes the metadata connection.
func (s *BinlogSource) Close() {
	if s.syncer != nil {
		s.syncer.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
