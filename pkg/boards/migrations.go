package boards

import "github.com/tasknest/tasknest/pkg/storage"

// Migrations returns the board and membership schema
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     200,
			Description: "Create boards and board_members tables",
			SQL: `
CREATE TABLE IF NOT EXISTS boards (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    owner_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_boards_owner ON boards (owner_id);

CREATE TABLE IF NOT EXISTS board_members (
    id          TEXT PRIMARY KEY,
    board_id    TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
    user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role        TEXT NOT NULL CHECK (role IN ('VIEWER', 'EDITOR')),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (board_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_board_members_user ON board_members (user_id);
`,
		},
	}
}
