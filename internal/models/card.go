package models

// GridSize is the width and height of a bingo card.
const GridSize = 5

// FreeCell marks the always-covered center cell of a card grid.
const FreeCell = 0

// BingoCard is one claimable game piece. Numbers is row-major: Numbers[r][c]
// holds the value at row r, column c, with the B/I/N/G/O column ranges
// 1-15, 16-30, 31-45, 46-60, 61-75 and FreeCell at the center.
type BingoCard struct {
	ID           string                  `json:"id"`
	SerialNumber int                     `json:"serial_number"`
	Numbers      [GridSize][GridSize]int `json:"numbers"`
	Claimed      bool                    `json:"claimed"`
	ClaimedBy    string                  `json:"claimed_by,omitempty"`
}

// Lines returns the 12 winning lines of the card: 5 rows, 5 columns and the
// two diagonals. FreeCell entries count as always covered.
func (c *BingoCard) Lines() [][GridSize]int {
	lines := make([][GridSize]int, 0, 12)
	for r := 0; r < GridSize; r++ {
		lines = append(lines, c.Numbers[r])
	}
	for col := 0; col < GridSize; col++ {
		var line [GridSize]int
		for r := 0; r < GridSize; r++ {
			line[r] = c.Numbers[r][col]
		}
		lines = append(lines, line)
	}
	var diag1, diag2 [GridSize]int
	for i := 0; i < GridSize; i++ {
		diag1[i] = c.Numbers[i][i]
		diag2[i] = c.Numbers[i][GridSize-1-i]
	}
	lines = append(lines, diag1, diag2)
	return lines
}
