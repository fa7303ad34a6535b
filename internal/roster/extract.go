package roster

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/palikkayhteiso/emmet/internal/sheet"
)

// resignedMarker excludes a whole row when any of its cells contains it;
// "eronnut" is Finnish for "resigned".
const resignedMarker = "eronnut"

// Extractor turns a worksheet into an ordered list of roster records.
// A single malformed row is skipped with a diagnostic and never aborts the
// batch; an error return means no roster could be produced at all.
type Extractor interface {
	Extract(s *sheet.Sheet) ([]User, error)
}

// Heuristic extracts records by auto-detecting column roles from the data.
// Every record gets a freshly generated opaque username; the sheet itself
// carries no stable identifier in this mode.
type Heuristic struct {
	Log *slog.Logger
}

func (h *Heuristic) Extract(s *sheet.Sheet) ([]User, error) {
	log := h.Log
	if log == nil {
		log = slog.Default()
	}

	rows := s.Rows
	headerRow := DetectHeaderRow(rows)
	header := s.Row(headerRow)

	emailCol, ok := DetectEmailColumn(rows, headerRow)
	if !ok {
		return nil, errors.New("could not detect email column")
	}

	nameCol, haveName := DetectNameColumn(rows, headerRow, emailCol)
	// Hometown is always the column immediately to the right of the name.
	hometownCol := -1
	if haveName {
		hometownCol = nameCol + 1
	}

	skip := map[int]bool{emailCol: true}
	if haveName {
		skip[nameCol] = true
		skip[hometownCol] = true
	}
	dateCols := DetectDateColumns(rows, headerRow, skip)
	effectiveCol, expirationCol := -1, -1
	if len(dateCols) > 0 {
		effectiveCol = dateCols[0]
	}
	if len(dateCols) > 1 {
		expirationCol = dateCols[1]
	}

	discordCol := -1
	if c, ok := DetectColumnByName(header, "discord"); ok {
		discordCol = c
	}
	bricklinkCol := -1
	if c, ok := DetectColumnByName(header, "bricklink"); ok {
		bricklinkCol = c
	}

	log.Info("detected columns",
		"header_row", headerRow+1,
		"email", emailCol,
		"name", columnOrNone(nameCol, haveName),
		"hometown", columnOrNone(hometownCol, haveName),
		"effective_date", effectiveCol,
		"expiration_date", expirationCol,
		"discord", discordCol,
		"bricklink", bricklinkCol,
	)

	var users []User
	for r := headerRow + 1; r < len(rows); r++ {
		row := rows[r]

		if rowResigned(row) {
			log.Info("skipping resigned row", "row", r+1)
			continue
		}

		email := cellText(row, emailCol)
		if email == "" {
			log.Warn("skipping row without email", "row", r+1)
			continue
		}
		if !ValidEmail(email) {
			log.Warn("skipping row with malformed email", "row", r+1, "email", email)
			continue
		}

		u := User{
			Username: uuid.NewString(),
			Email:    email,
		}
		if haveName {
			u.FullName = cellText(row, nameCol)
			u.FirstName, u.LastName = SplitName(u.FullName)
			u.Hometown = cellText(row, hometownCol)
		}
		u.EffectiveDate = cellDate(row, effectiveCol)
		u.ExpirationDate = cellDate(row, expirationCol)
		u.Discord = cellText(row, discordCol)
		u.Bricklink = cellText(row, bricklinkCol)

		users = append(users, u)
		log.Info("parsed roster row", "row", r+1, "email", email, "username", u.Username)
	}
	return users, nil
}

// ColumnMapping names the header cells used by the Mapped extractor.
type ColumnMapping struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// DefaultColumnMapping returns the conventional header names.
func DefaultColumnMapping() ColumnMapping {
	return ColumnMapping{
		Username:  "username",
		Email:     "email",
		FirstName: "firstName",
		LastName:  "lastName",
	}
}

// Mapped extracts records using explicit header names supplied by the
// caller. The header is always the first row and usernames come from the
// sheet, so records keep a stable identifier across runs.
type Mapped struct {
	Mapping ColumnMapping
	Log     *slog.Logger
}

func (m *Mapped) Extract(s *sheet.Sheet) ([]User, error) {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}

	header := s.Row(0)
	if len(header) == 0 {
		return nil, errors.New("worksheet has no header row")
	}

	usernameCol := headerIndex(header, m.Mapping.Username)
	if usernameCol < 0 {
		return nil, fmt.Errorf("username column %q not found in header", m.Mapping.Username)
	}
	emailCol := headerIndex(header, m.Mapping.Email)
	firstNameCol := headerIndex(header, m.Mapping.FirstName)
	lastNameCol := headerIndex(header, m.Mapping.LastName)

	var users []User
	for r := 1; r < len(s.Rows); r++ {
		row := s.Rows[r]

		username := cellText(row, usernameCol)
		if username == "" {
			log.Warn("skipping row without username", "row", r+1)
			continue
		}

		email := cellText(row, emailCol)
		if email != "" && !ValidEmail(email) {
			log.Warn("skipping row with malformed email", "row", r+1, "email", email)
			continue
		}

		users = append(users, User{
			Username:  username,
			Email:     email,
			FirstName: cellText(row, firstNameCol),
			LastName:  cellText(row, lastNameCol),
		})
	}
	return users, nil
}

// headerIndex returns the index of the header cell whose trimmed text equals
// name, or -1.
func headerIndex(header []sheet.Cell, name string) int {
	for i, cell := range header {
		if cell.Trimmed() == name {
			return i
		}
	}
	return -1
}

func rowResigned(row []sheet.Cell) bool {
	for _, cell := range row {
		if strings.Contains(strings.ToLower(cell.Text), resignedMarker) {
			return true
		}
	}
	return false
}

func cellText(row []sheet.Cell, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col].Trimmed()
}

// cellDate renders native date cells in dd.mm.yyyy form; string dates pass
// through trimmed and unvalidated.
func cellDate(row []sheet.Cell, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	cell := row[col]
	if cell.Time != nil {
		return cell.Time.Format(DateLayout)
	}
	return cell.Trimmed()
}

func columnOrNone(col int, have bool) int {
	if !have {
		return -1
	}
	return col
}
