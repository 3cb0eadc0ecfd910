package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/service"
)

type sweeper interface {
	ExpireRequests(ctx context.Context) (service.SweepResult, error)
	ResolveNoShows(ctx context.Context) (service.SweepResult, error)
	PurgeAttendance(ctx context.Context) (int64, error)
}

type qcRechecker interface {
	Recheck(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) error
}

type payoutOps interface {
	Process(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error)
	MarkPaid(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Payout, error)
}

type disputeResolver interface {
	Resolve(ctx context.Context, actor *models.Actor, disputeID uuid.UUID, in service.ResolveInput) (*models.Dispute, error)
}

// backend сервисы, с которыми работают команды.
type backend struct {
	sweeps   sweeper
	qc       qcRechecker
	payouts  payoutOps
	disputes disputeResolver
	close    func() error
}

type connectFunc func(ctx context.Context) (*backend, error)

func newRootCmd(connect connectFunc, migrate func(ctx context.Context) error) *cobra.Command {
	root := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Операционные команды жизненного цикла консультаций",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var adminID string
	root.PersistentFlags().StringVar(&adminID, "admin-id", "", "ID администратора, от имени которого выполняется действие")

	// with подключает зависимости на время одной команды.
	with := func(cmd *cobra.Command, fn func(ctx context.Context, b *backend) (any, error)) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		b, err := connect(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if b.close != nil {
				_ = b.close()
			}
		}()

		out, err := fn(ctx, b)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	admin := func() (*models.Actor, error) {
		id, err := uuid.Parse(adminID)
		if err != nil {
			return nil, fmt.Errorf("--admin-id: нужен UUID администратора")
		}
		return models.NewActor(id, string(models.RoleAdmin)), nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции базы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "expire-now",
		Short: "Закрыть просроченные заявки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return with(cmd, func(ctx context.Context, b *backend) (any, error) {
				return b.sweeps.ExpireRequests(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "no-show-now",
		Short: "Разобрать посещаемость завершившихся встреч",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return with(cmd, func(ctx context.Context, b *backend) (any, error) {
				return b.sweeps.ResolveNoShows(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "purge-attendance",
		Short: "Удалить события посещаемости старше окна хранения",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return with(cmd, func(ctx context.Context, b *backend) (any, error) {
				n, err := b.sweeps.PurgeAttendance(ctx)
				return map[string]int64{"deleted": n}, err
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "recheck-qc [booking-id]",
		Short: "Перепроверить отзыв по бронированию",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookingID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("booking-id: %w", err)
			}
			actor, err := admin()
			if err != nil {
				return err
			}
			return with(cmd, func(ctx context.Context, b *backend) (any, error) {
				return map[string]any{"booking_id": bookingID, "queued": true}, b.qc.Recheck(ctx, actor, bookingID)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "process-payout [booking-id]",
		Short: "Повторить выпуск выплаты по бронированию",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookingID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("booking-id: %w", err)
			}
			return with(cmd, func(ctx context.Context, b *backend) (any, error) {
				return b.payouts.Process(ctx, bookingID)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "mark-paid [booking-id]",
		Short: "Отметить выплату проведённой",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookingID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("booking-id: %w", err)
			}
			actor, err := admin()
			if err != nil {
				return err
			}
			return with(cmd, func(ctx context.Context, b *backend) (any, error) {
				return b.payouts.MarkPaid(ctx, actor, bookingID)
			})
		},
	})

	root.AddCommand(resolveDisputeCmd(with, admin))
	return root
}

func resolveDisputeCmd(with func(*cobra.Command, func(context.Context, *backend) (any, error)) error, admin func() (*models.Actor, error)) *cobra.Command {
	var (
		resolution string
		amount     int64
		note       string
	)
	cmd := &cobra.Command{
		Use:   "resolve-dispute [dispute-id]",
		Short: "Разрешить спор: full_refund, partial_refund или dismiss",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			disputeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("dispute-id: %w", err)
			}
			actor, err := admin()
			if err != nil {
				return err
			}
			in := service.ResolveInput{
				Resolution: models.DisputeResolution(resolution),
				Note:       note,
			}
			if cmd.Flags().Changed("amount") {
				in.AmountCents = &amount
			}
			return with(cmd, func(ctx context.Context, b *backend) (any, error) {
				return b.disputes.Resolve(ctx, actor, disputeID, in)
			})
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "full_refund, partial_refund или dismiss")
	cmd.Flags().Int64Var(&amount, "amount", 0, "сумма возврата в центах для partial_refund")
	cmd.Flags().StringVar(&note, "note", "", "комментарий к решению")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}
