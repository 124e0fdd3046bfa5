package repo

import (
	"context"
	"errors"
	"time"

	"github.com/tazhibayda/auth-api/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

const accountsCollection = "users"

type accountDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Email          string             `bson:"email"`
	PasswordDigest string             `bson:"password,omitempty"`
	Name           string             `bson:"name"`
	Lastname       string             `bson:"lastname,omitempty"`
	Role           string             `bson:"role"`
	IsVerified     bool               `bson:"is_verified"`
	IsExternal     bool               `bson:"is_external_identity"`
	Image          string             `bson:"image,omitempty"`
	ResetDigest    string             `bson:"reset_password_token,omitempty"`
	ResetExpiry    *time.Time         `bson:"reset_password_expire,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

func (d *accountDoc) toDomain() *domain.Account {
	return &domain.Account{
		ID:                 d.ID.Hex(),
		Email:              d.Email,
		PasswordDigest:     d.PasswordDigest,
		DisplayName:        d.Name,
		FamilyName:         d.Lastname,
		Role:               domain.Role(d.Role),
		IsVerified:         d.IsVerified,
		IsExternalIdentity: d.IsExternal,
		AvatarRef:          d.Image,
		ResetTokenDigest:   d.ResetDigest,
		ResetTokenExpiry:   d.ResetExpiry,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

// Mongo stores accounts in one collection; the unique email index is the
// arbiter for concurrent registrations.
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
	col    *mongo.Collection
	now    func() time.Time
}

var _ domain.AccountRepository = (*Mongo)(nil)

func NewMongo(ctx context.Context, uri, dbname string) (*Mongo, error) {
	cli, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetRetryWrites(true).
		SetMaxPoolSize(50).
		SetServerSelectionTimeout(10*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return NewMongoFromClient(cli, dbname), nil
}

func NewMongoFromClient(cli *mongo.Client, dbname string) *Mongo {
	db := cli.Database(dbname)
	return &Mongo{Client: cli, DB: db, col: db.Collection(accountsCollection), now: time.Now}
}

func (s *Mongo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Client.Ping(ctx, nil)
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_email"),
		},
		{
			Keys:    bson.D{{Key: "reset_password_token", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("reset_token"),
		},
		{
			Keys:    bson.D{{Key: "is_verified", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("unverified_created"),
		},
	})
	return err
}

// IsDup reports a duplicate key violation.
func IsDup(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return mongo.IsDuplicateKeyError(err)
}

func (s *Mongo) span(ctx context.Context, op string) (tracer.Span, context.Context) {
	return startSpan(ctx, "mongodb", op)
}

func (s *Mongo) findOne(ctx context.Context, op string, filter bson.M) (acc *domain.Account, err error) {
	sp, ctx := s.span(ctx, op)
	defer func() { sp.Finish(tracer.WithError(ignoreNotFound(err))) }()

	var d accountDoc
	if err := s.col.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return d.toDomain(), nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Mongo) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.findOne(ctx, "find_by_email", bson.M{"email": domain.CanonicalEmail(email)})
}

func (s *Mongo) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return s.findOne(ctx, "find_by_id", bson.M{"_id": oid})
}

func (s *Mongo) FindByResetDigest(ctx context.Context, digest string, now time.Time) (*domain.Account, error) {
	if digest == "" {
		return nil, domain.ErrNotFound
	}
	return s.findOne(ctx, "find_by_reset", bson.M{
		"reset_password_token":  digest,
		"reset_password_expire": bson.M{"$gt": now.UTC()},
	})
}

func (s *Mongo) Create(ctx context.Context, a *domain.Account) (id string, err error) {
	sp, ctx := s.span(ctx, "insert")
	defer func() { sp.Finish(tracer.WithError(err)) }()

	now := s.now().UTC()
	role := a.Role
	if role == "" {
		role = domain.RoleUser
	}
	d := accountDoc{
		ID:             primitive.NewObjectID(),
		Email:          domain.CanonicalEmail(a.Email),
		PasswordDigest: a.PasswordDigest,
		Name:           a.DisplayName,
		Lastname:       a.FamilyName,
		Role:           string(role),
		IsVerified:     a.IsVerified,
		IsExternal:     a.IsExternalIdentity,
		Image:          a.AvatarRef,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.col.InsertOne(ctx, d); err != nil {
		if IsDup(err) {
			return "", domain.ErrEmailTaken
		}
		return "", err
	}
	a.ID, a.Email, a.Role, a.CreatedAt, a.UpdatedAt = d.ID.Hex(), d.Email, role, now, now
	return a.ID, nil
}

func (s *Mongo) updateByID(ctx context.Context, op, id string, update bson.M) (err error) {
	oid, perr := primitive.ObjectIDFromHex(id)
	if perr != nil {
		return domain.ErrNotFound
	}
	sp, ctx := s.span(ctx, op)
	defer func() { sp.Finish(tracer.WithError(ignoreNotFound(err))) }()

	res, err := s.col.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Mongo) Update(ctx context.Context, id string, patch domain.AccountPatch) error {
	if err := patch.Check(); err != nil {
		return err
	}
	set := bson.M{"updated_at": s.now().UTC()}
	if patch.DisplayName != nil {
		set["name"] = *patch.DisplayName
	}
	if patch.FamilyName != nil {
		set["lastname"] = *patch.FamilyName
	}
	if patch.AvatarRef != nil {
		set["image"] = *patch.AvatarRef
	}
	if patch.Role != nil {
		set["role"] = string(*patch.Role)
	}
	return s.updateByID(ctx, "update", id, bson.M{"$set": set})
}

func (s *Mongo) SetVerified(ctx context.Context, id string) (err error) {
	oid, perr := primitive.ObjectIDFromHex(id)
	if perr != nil {
		return domain.ErrNotFound
	}
	sp, ctx := s.span(ctx, "set_verified")
	defer func() { sp.Finish(tracer.WithError(ignoreNotFound(err))) }()

	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": oid, "is_verified": false},
		bson.M{"$set": bson.M{"is_verified": true, "updated_at": s.now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	return s.missingOrVerified(ctx, oid)
}

func (s *Mongo) missingOrVerified(ctx context.Context, oid primitive.ObjectID) error {
	n, err := s.col.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyVerified
}

var unsetReset = bson.M{"reset_password_token": "", "reset_password_expire": ""}

func (s *Mongo) SetPassword(ctx context.Context, id, passwordDigest string) error {
	return s.updateByID(ctx, "set_password", id, bson.M{
		"$set":   bson.M{"password": passwordDigest, "updated_at": s.now().UTC()},
		"$unset": unsetReset,
	})
}

func (s *Mongo) SetResetDigest(ctx context.Context, id, digest string, expiry time.Time) error {
	return s.updateByID(ctx, "set_reset", id, bson.M{
		"$set": bson.M{
			"reset_password_token":  digest,
			"reset_password_expire": expiry.UTC(),
			"updated_at":            s.now().UTC(),
		},
	})
}

func (s *Mongo) findOneAndUpdate(ctx context.Context, op string, filter, update bson.M) (acc *domain.Account, err error) {
	sp, ctx := s.span(ctx, op)
	defer func() { sp.Finish(tracer.WithError(ignoreNotFound(err))) }()

	var d accountDoc
	err = s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return d.toDomain(), nil
}

func (s *Mongo) RedeemResetDigest(ctx context.Context, digest string, now time.Time, passwordDigest string) (*domain.Account, error) {
	if digest == "" {
		return nil, domain.ErrNotFound
	}
	return s.findOneAndUpdate(ctx, "redeem_reset",
		bson.M{
			"reset_password_token":  digest,
			"reset_password_expire": bson.M{"$gt": now.UTC()},
		},
		bson.M{
			"$set":   bson.M{"password": passwordDigest, "updated_at": s.now().UTC()},
			"$unset": unsetReset,
		},
	)
}

func (s *Mongo) AdoptExternalIdentity(ctx context.Context, id string) (*domain.Account, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	acc, err := s.findOneAndUpdate(ctx, "adopt_external",
		bson.M{"_id": oid, "is_verified": false},
		bson.M{
			"$set": bson.M{
				"is_verified":          true,
				"is_external_identity": true,
				"updated_at":           s.now().UTC(),
			},
			"$unset": bson.M{"password": "", "reset_password_token": "", "reset_password_expire": ""},
		},
	)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, s.missingOrVerified(ctx, oid)
	}
	return acc, err
}

func (s *Mongo) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	sp, ctx := s.span(ctx, "delete_unverified")
	defer func() { sp.Finish(tracer.WithError(err)) }()

	res, err := s.col.DeleteMany(ctx, bson.M{
		"is_verified": false,
		"created_at":  bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Mongo) ClearExpiredResets(ctx context.Context, now time.Time) (n int64, err error) {
	sp, ctx := s.span(ctx, "clear_expired_resets")
	defer func() { sp.Finish(tracer.WithError(err)) }()

	res, err := s.col.UpdateMany(ctx,
		bson.M{"reset_password_expire": bson.M{"$lte": now.UTC()}},
		bson.M{"$unset": unsetReset},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
