package foxglove

// SnapshotSchema describes the snapshot channel payload.
const SnapshotSchema = `{
  "type": "object",
  "properties": {
    "ts": { "type": "string" },
    "seq": { "type": "integer" },
    "fields": { "type": "object", "additionalProperties": { "type": "number" } },
    "degraded": { "type": "boolean" }
  },
  "required": ["seq", "fields"]
}`

// FrameTransformsSchema is foxglove.FrameTransforms.
const FrameTransformsSchema = `{
  "type": "object",
  "properties": {
    "transforms": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "timestamp": { "type": "object", "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } } },
          "parent_frame_id": { "type": "string" },
          "child_frame_id": { "type": "string" },
          "translation": { "type": "object", "properties": { "x": { "type": "number" }, "y": { "type": "number" }, "z": { "type": "number" } } },
          "rotation": { "type": "object", "properties": { "x": { "type": "number" }, "y": { "type": "number" }, "z": { "type": "number" }, "w": { "type": "number" } } }
        }
      }
    }
  }
}`

// BatterySchema describes the battery channel payload.
const BatterySchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object", "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } } },
    "voltage": { "type": "number" },
    "current": { "type": "number" },
    "rssi": { "type": "integer" }
  }
}`

// Channel IDs advertised by the server.
const (
	SnapshotChannelID  uint64 = 1
	TransformChannelID uint64 = 2
	BatteryChannelID   uint64 = 3
)

type Config struct {
	Name          string
	SnapshotTopic string
	AttitudeTopic string
	BatteryTopic  string
	ParentFrameID string
	FrameID       string
	SendBuf       int
}

func DefaultConfig() Config {
	return Config{
		Name:          "blackbox",
		SnapshotTopic: "/blackbox/snapshot",
		AttitudeTopic: "/tf",
		BatteryTopic:  "/blackbox/battery",
		ParentFrameID: "world",
		FrameID:       "base_link",
		SendBuf:       256,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.SnapshotTopic == "" {
		cfg.SnapshotTopic = def.SnapshotTopic
	}
	if cfg.AttitudeTopic == "" {
		cfg.AttitudeTopic = def.AttitudeTopic
	}
	if cfg.BatteryTopic == "" {
		cfg.BatteryTopic = def.BatteryTopic
	}
	if cfg.ParentFrameID == "" {
		cfg.ParentFrameID = def.ParentFrameID
	}
	if cfg.FrameID == "" {
		cfg.FrameID = def.FrameID
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = def.SendBuf
	}
	return cfg
}
