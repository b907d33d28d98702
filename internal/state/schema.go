package state

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  source_agent TEXT NOT NULL,
  target_agent TEXT,
  symbol TEXT,
  payload TEXT,
  dedupe_key TEXT,
  created_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedupe ON events(dedupe_key) WHERE dedupe_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_events_type_created ON events(event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_events_symbol_created ON events(symbol, created_at);
CREATE INDEX IF NOT EXISTS idx_events_source_created ON events(source_agent, created_at);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);

CREATE TABLE IF NOT EXISTS trade_signals (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  action TEXT NOT NULL,
  confidence REAL NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),
  price_target REAL,
  stop_loss REAL,
  current_price REAL,
  reasoning TEXT,
  source_agent TEXT,
  risk_approved INTEGER,
  risk_warnings TEXT,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_created ON trade_signals(created_at);
CREATE INDEX IF NOT EXISTS idx_signals_symbol ON trade_signals(symbol, created_at);

CREATE TABLE IF NOT EXISTS risk_verdicts (
  id TEXT PRIMARY KEY,
  signal_id TEXT NOT NULL UNIQUE,
  symbol TEXT NOT NULL,
  action TEXT NOT NULL,
  original_confidence REAL NOT NULL,
  approved INTEGER NOT NULL,
  verdict TEXT NOT NULL,
  warnings TEXT,
  checked_by TEXT NOT NULL,
  created_at TEXT NOT NULL,
  FOREIGN KEY(signal_id) REFERENCES trade_signals(id)
);

CREATE TABLE IF NOT EXISTS reports (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  summary TEXT,
  sentiment TEXT,
  recommendation TEXT NOT NULL,
  confidence REAL NOT NULL,
  key_findings TEXT,
  technical_data TEXT,
  fundamental_data TEXT,
  sentiment_data TEXT,
  quantitative_data TEXT,
  risk_verdict TEXT,
  signal_id TEXT,
  agent_name TEXT,
  created_at TEXT NOT NULL,
  FOREIGN KEY(signal_id) REFERENCES trade_signals(id)
);

CREATE INDEX IF NOT EXISTS idx_reports_symbol_created ON reports(symbol, created_at);

CREATE TABLE IF NOT EXISTS context_entries (
  id TEXT PRIMARY KEY,
  agent TEXT NOT NULL,
  symbol TEXT NOT NULL,
  category TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_context_symbol_category ON context_entries(symbol, category, created_at);
`
