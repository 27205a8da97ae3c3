// Package frames implements the tagged-sum dispatch table over the
// observed game message tags. Six tags carry a fully parsed field
// layout because the decryptor inspects them (NewTick, Reconnect) or
// because downstream tooling relies on their fields (Move, Text,
// MapInfo, Damage); every other observed tag is named but left as an
// opaque remainder, and any tag outside the observed set falls back to
// the same catch-all shape with a synthesized name.
//
// Parsing never panics and never discards a frame: a short read, bad
// UTF-8, or malformed varint on a structured tag demotes that frame to
// the catch-all, payload intact, rather than losing it.
package frames

import (
	"fmt"

	"github.com/yawning/tickcap/bytebuffer"
)

// Tag is the one-byte wire type tag carried by every stitched frame.
type Tag byte

// Tags with a defined field layout.
const (
	TagNewTick   Tag = 10
	TagReconnect Tag = 45
	TagMove      Tag = 62
	TagText      Tag = 44
	TagMapInfo   Tag = 92
	TagDamage    Tag = 75
)

// tagNames is the observed tag catalog, used to give the catch-all
// variant a readable name instead of just a number. Tags never seen on
// the wire are absent here and fall back to a synthesized Unknown<N>
// name via nameFor.
var tagNames = map[Tag]string{
	0:   "Failure",
	1:   "Teleport",
	3:   "ClaimLoginReward",
	4:   "DeletePet",
	5:   "RequestTrade",
	6:   "QuestFetchResponse",
	7:   "JoinGuild",
	8:   "Ping",
	9:   "PlayerText",
	10:  "NewTick",
	11:  "ShowEffect",
	12:  "ServerPlayerShoot",
	13:  "UseItem",
	14:  "TradeAccepted",
	15:  "GuildRemove",
	16:  "PetUpgradeRequest",
	17:  "EnterArena",
	18:  "GoTo",
	19:  "InventoryDrop",
	20:  "OtherHit",
	21:  "NameResult",
	22:  "BuyResult",
	23:  "HatchPet",
	24:  "ActivePetUpdateRequest",
	25:  "EnemyHit",
	26:  "GuildResult",
	27:  "EditAccountList",
	28:  "TradeChanged",
	30:  "PlayerShoot",
	31:  "Pong",
	33:  "PetChangeSkinMessage",
	34:  "TradeDone",
	35:  "EnemyShoot",
	36:  "AcceptTrade",
	37:  "ChangeGuildRank",
	38:  "PlaySound",
	39:  "VerifyEmail",
	40:  "SquareHit",
	41:  "NewAbility",
	42:  "Update",
	44:  "Text",
	45:  "Reconnect",
	46:  "Death",
	47:  "UsePortal",
	48:  "QuestRoomMessage",
	49:  "AllyShoot",
	50:  "ImminentArenaWave",
	51:  "Reskin",
	52:  "ResetDailyQuests",
	53:  "PetChangeFormMsg",
	55:  "InvResult",
	56:  "ChangeTrade",
	57:  "Create",
	58:  "QuestRedeem",
	59:  "CreateGuild",
	60:  "SetCondition",
	61:  "Load",
	62:  "Move",
	63:  "KeyInfoResponse",
	64:  "Aoe",
	65:  "GoToAck",
	66:  "GlobalNotification",
	67:  "Notification",
	68:  "ArenaDeath",
	69:  "ClientStat",
	74:  "Hello",
	75:  "Damage",
	76:  "ActivePetUpdate",
	77:  "InvitedToGuild",
	78:  "PetYardUpdate",
	79:  "PasswordPrompt",
	80:  "AcceptArenaDeath",
	81:  "UpdateAck",
	82:  "QuestObjectId",
	83:  "Pic",
	84:  "RealmHeroLeftMsg",
	85:  "Buy",
	86:  "TradeStart",
	87:  "EvolvePet",
	88:  "TradeRequested",
	89:  "AoeAck",
	90:  "PlayerHit",
	91:  "CancelTrade",
	92:  "MapInfo",
	93:  "LoginRewardMsg",
	94:  "KeyInfoRequest",
	95:  "InvSwap",
	96:  "QuestRedeemResponse",
	97:  "ChooseName",
	98:  "QuestFetchAsk",
	99:  "AccountList",
	100: "ShootAck",
	101: "CreateSuccess",
	102: "CheckCredits",
	103: "GroundDamage",
	104: "GuildInvite",
	105: "Escape",
	106: "File",
	107: "ReskinUnlock",
	108: "NewCharacterInfo",
	109: "UnlockInfo",
	112: "QueueInfo",
	113: "QueueCancel",
	114: "ExaltationBonusChanged",
	115: "RedeemExaltationReward",
	117: "VaultUpdate",
	118: "ForgeRequest",
	119: "ForgeResult",
	120: "ForgeUnlockedBlueprints",
	121: "ShootAckCounter",
	122: "ChangeAllyShoot",
	123: "GetPlayersListMessage",
	124: "ModeratorActionMessage",
	126: "CreepMoveMessage",
	134: "Unknown134",
	137: "Dash",
	138: "DashAck",
	139: "Unknown139",
	145: "Unknown145",
	146: "Unknown146",
	147: "Unknown147",
	149: "ClaimBattlePass",
	150: "ClaimBPMilestoneResult",
	154: "ConvertSeasonal",
	159: "Emote",
	163: "Unknown163",
	164: "Unknown164",
	165: "Unknown165",
	166: "Stasis",
	169: "Unknown169",
}

// nameFor returns the catalog name for tag, or a synthesized Unknown<N>
// name for a tag outside the observed set.
func nameFor(tag Tag) string {
	if name, ok := tagNames[tag]; ok {
		return name
	}
	return fmt.Sprintf("Unknown%d", byte(tag))
}

// Frame is a parsed typed frame. Every concrete type, including Generic,
// owns its byte buffers exclusively.
type Frame interface {
	FrameTag() Tag
}

// Generic is the catch-all variant: a tag (named if recognized) plus the
// full payload, from its first byte. It is used both for tags with no
// defined field layout and for any recognized tag whose payload failed
// to parse.
type Generic struct {
	Tag       Tag
	Name      string
	Remainder []byte
}

// FrameTag implements Frame.
func (g Generic) FrameTag() Tag { return g.Tag }

// NewTick is the periodic server frame used as the cipher-alignment
// crib and for tick-adjacency validation.
type NewTick struct {
	TickID            uint32
	TickTime          uint32
	ServerCurrentTime uint32
	ServerPrevTime    uint16
	Remainder         []byte
}

// FrameTag implements Frame.
func (NewTick) FrameTag() Tag { return TagNewTick }

// Reconnect carries a new session; observing one requires an immediate
// decryptor cipher reset.
type Reconnect struct {
	Name    string
	Host    string
	Unknown uint32
	Port    uint32
	GameID  uint32
	Key     []byte
}

// FrameTag implements Frame.
func (Reconnect) FrameTag() Tag { return TagReconnect }

// Move carries a player's tick-relative position update.
type Move struct {
	TickID    uint32
	Time      uint32
	Remainder []byte
}

// FrameTag implements Frame.
func (Move) FrameTag() Tag { return TagMove }

// Text carries a chat message.
type Text struct {
	Name           string
	ObjectID       uint32
	NumStars       uint16
	DisplayTime    uint8
	Recipient      string
	Content        string
	CleanText      string
	IsSupporter    bool
	StarBackground uint32
}

// FrameTag implements Frame.
func (Text) FrameTag() Tag { return TagText }

// MapInfo describes the realm the session is connected to.
type MapInfo struct {
	Width          uint32
	Height         uint32
	Name           string
	DisplayName    string
	RealmName      string
	Difficulty     float32
	Seed           uint32
	Background     uint32
	AllowTeleport  bool
	ShowDisplays   bool
	UnknownBool    bool
	MaxPlayers     uint16
	GameOpenedTime uint32
	BuildVersion   string
	UnknownInt     uint32
	DungeonMods    string
}

// FrameTag implements Frame.
func (MapInfo) FrameTag() Tag { return TagMapInfo }

// Damage reports a hit against TargetID.
type Damage struct {
	TargetID      uint32
	Effects       []byte
	DamageAmount  uint16
	Killed        bool
	ArmorPiercing bool
	BulletID      uint8
	OwnerID       uint32
}

// FrameTag implements Frame.
func (Damage) FrameTag() Tag { return TagDamage }

// Parse dispatches on tag and parses payload into the matching typed
// frame, or a Generic catch-all if tag has no defined layout or parsing
// fails partway through. payload is not retained by reference beyond
// this call for the structured variants (their string/byte fields copy
// out of it); Generic.Remainder aliases payload directly since it is
// never mutated afterward.
func Parse(tag byte, payload []byte) Frame {
	t := Tag(tag)
	buf := bytebuffer.New(payload)

	var (
		f   Frame
		err error
	)
	switch t {
	case TagNewTick:
		f, err = parseNewTick(buf)
	case TagReconnect:
		f, err = parseReconnect(buf)
	case TagMove:
		f, err = parseMove(buf)
	case TagText:
		f, err = parseText(buf)
	case TagMapInfo:
		f, err = parseMapInfo(buf)
	case TagDamage:
		f, err = parseDamage(buf)
	default:
		err = errUnstructuredTag
	}
	if err != nil {
		return Generic{Tag: t, Name: nameFor(t), Remainder: payload}
	}
	return f
}

// errUnstructuredTag is a sentinel used internally by Parse to route any
// tag without a defined field layout to the Generic branch below; it is
// never returned to a caller.
var errUnstructuredTag = fmt.Errorf("frames: no defined layout for this tag")

func parseNewTick(buf *bytebuffer.Buffer) (Frame, error) {
	tickID, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	tickTime, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	serverCurrentTime, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	serverPrevTime, err := buf.ReadU16()
	if err != nil {
		return nil, err
	}
	return NewTick{
		TickID:            tickID,
		TickTime:          tickTime,
		ServerCurrentTime: serverCurrentTime,
		ServerPrevTime:    serverPrevTime,
		Remainder:         append([]byte(nil), buf.Remainder()...),
	}, nil
}

func parseReconnect(buf *bytebuffer.Buffer) (Frame, error) {
	name, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	host, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	unknown, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	port, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	gameID, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	return Reconnect{
		Name:    name,
		Host:    host,
		Unknown: unknown,
		Port:    port,
		GameID:  gameID,
		Key:     append([]byte(nil), buf.Remainder()...),
	}, nil
}

func parseMove(buf *bytebuffer.Buffer) (Frame, error) {
	tickID, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	t, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	return Move{
		TickID:    tickID,
		Time:      t,
		Remainder: append([]byte(nil), buf.Remainder()...),
	}, nil
}

func parseText(buf *bytebuffer.Buffer) (Frame, error) {
	name, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	objectID, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	numStars, err := buf.ReadU16()
	if err != nil {
		return nil, err
	}
	displayTime, err := buf.ReadU8()
	if err != nil {
		return nil, err
	}
	recipient, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	content, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	cleanText, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	isSupporter, err := buf.ReadBool()
	if err != nil {
		return nil, err
	}
	starBackground, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	return Text{
		Name:           name,
		ObjectID:       objectID,
		NumStars:       numStars,
		DisplayTime:    displayTime,
		Recipient:      recipient,
		Content:        content,
		CleanText:      cleanText,
		IsSupporter:    isSupporter,
		StarBackground: starBackground,
	}, nil
}

func parseMapInfo(buf *bytebuffer.Buffer) (Frame, error) {
	width, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	height, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	name, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	displayName, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	realmName, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	difficulty, err := buf.ReadF32()
	if err != nil {
		return nil, err
	}
	seed, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	background, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	allowTeleport, err := buf.ReadBool()
	if err != nil {
		return nil, err
	}
	showDisplays, err := buf.ReadBool()
	if err != nil {
		return nil, err
	}
	unknownBool, err := buf.ReadBool()
	if err != nil {
		return nil, err
	}
	maxPlayers, err := buf.ReadU16()
	if err != nil {
		return nil, err
	}
	gameOpenedTime, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	buildVersion, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	unknownInt, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	dungeonMods, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	return MapInfo{
		Width:          width,
		Height:         height,
		Name:           name,
		DisplayName:    displayName,
		RealmName:      realmName,
		Difficulty:     difficulty,
		Seed:           seed,
		Background:     background,
		AllowTeleport:  allowTeleport,
		ShowDisplays:   showDisplays,
		UnknownBool:    unknownBool,
		MaxPlayers:     maxPlayers,
		GameOpenedTime: gameOpenedTime,
		BuildVersion:   buildVersion,
		UnknownInt:     unknownInt,
		DungeonMods:    dungeonMods,
	}, nil
}

func parseDamage(buf *bytebuffer.Buffer) (Frame, error) {
	targetID, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	effectLen, err := buf.ReadU8()
	if err != nil {
		return nil, err
	}
	effects, err := buf.ReadN(int(effectLen))
	if err != nil {
		return nil, err
	}
	damageAmount, err := buf.ReadU16()
	if err != nil {
		return nil, err
	}
	killed, err := buf.ReadBool()
	if err != nil {
		return nil, err
	}
	armorPiercing, err := buf.ReadBool()
	if err != nil {
		return nil, err
	}
	bulletID, err := buf.ReadU8()
	if err != nil {
		return nil, err
	}
	ownerID, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	return Damage{
		TargetID:      targetID,
		Effects:       append([]byte(nil), effects...),
		DamageAmount:  damageAmount,
		Killed:        killed,
		ArmorPiercing: armorPiercing,
		BulletID:      bulletID,
		OwnerID:       ownerID,
	}, nil
}
